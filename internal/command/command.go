package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Command is one entry of a numbered menu.
type Command struct {
	Name        string
	Description string
	Handler     CommandHandler
}

// CommandHandler is the function signature for command execution.
type CommandHandler func(ctx context.Context) (*CommandResult, error)

// CommandResult holds the output of a command.
type CommandResult struct {
	Content string
	// Exit leaves the menu that dispatched the command.
	Exit bool
}

// Registry holds the commands of one menu in registration order.
type Registry struct {
	order    []string
	commands map[string]*Command
	mu       sync.RWMutex
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command. Registering a name again replaces the command
// and keeps its position.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[cmd.Name]; !ok {
		r.order = append(r.order, cmd.Name)
	}
	r.commands[cmd.Name] = cmd
}

// Dispatch runs the command selected by its menu number or its name.
func (r *Registry) Dispatch(ctx context.Context, input string) (*CommandResult, error) {
	input = strings.TrimSpace(input)
	cmd := r.lookup(input)
	if cmd == nil {
		return &CommandResult{
			Content: fmt.Sprintf("Unknown choice: %q. Pick a number from the menu.", input),
		}, nil
	}
	return cmd.Handler(ctx)
}

func (r *Registry) lookup(input string) *Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n, err := strconv.Atoi(input); err == nil {
		if n < 1 || n > len(r.order) {
			return nil
		}
		return r.commands[r.order[n-1]]
	}
	return r.commands[strings.ToLower(input)]
}

// List returns the commands in registration order.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Command, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.commands[name])
	}
	return result
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
