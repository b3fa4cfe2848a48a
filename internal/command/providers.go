package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nidhogg/resumemind/internal/provider"
	"github.com/nidhogg/resumemind/internal/store"
)

// chooseProvider shows the provider menu until a provider is in use. It
// returns false when the user leaves through the leave entry instead.
func (a *App) chooseProvider(ctx context.Context, leave string) (bool, error) {
	selected := false
	reg := NewRegistry()
	reg.Register(&Command{Name: "use", Description: "Use an existing provider", Handler: func(ctx context.Context) (*CommandResult, error) {
		cfg, err := a.pickProvider(ctx, "Provider to use")
		if err != nil || cfg == nil {
			return &CommandResult{}, err
		}
		if err := a.activate(ctx, cfg); err != nil {
			return nil, err
		}
		selected = true
		return &CommandResult{Exit: true}, nil
	}})
	reg.Register(&Command{Name: "add", Description: "Add a new provider", Handler: func(ctx context.Context) (*CommandResult, error) {
		cfg, err := a.addProvider(ctx)
		if err != nil {
			return nil, err
		}
		if err := a.ensureDefault(ctx, cfg); err != nil {
			return nil, err
		}
		if err := a.activate(ctx, cfg); err != nil {
			return nil, err
		}
		selected = true
		return &CommandResult{Exit: true}, nil
	}})
	reg.Register(&Command{Name: "manage", Description: "Manage providers", Handler: func(ctx context.Context) (*CommandResult, error) {
		if err := a.loop(ctx, "Manage providers", a.manageMenu()); err != nil {
			return nil, err
		}
		// Setting the active provider while managing also puts it in use.
		if a.current != nil {
			selected = true
			return &CommandResult{Exit: true}, nil
		}
		return &CommandResult{}, nil
	}})
	reg.Register(&Command{Name: "leave", Description: leave, Handler: func(context.Context) (*CommandResult, error) {
		return &CommandResult{Exit: true}, nil
	}})

	if err := a.loop(ctx, "Providers", reg); err != nil {
		return false, err
	}
	return selected, nil
}

func (a *App) manageMenu() *Registry {
	reg := NewRegistry()
	reg.Register(&Command{Name: "active", Description: "Set active provider", Handler: func(ctx context.Context) (*CommandResult, error) {
		cfg, err := a.pickProvider(ctx, "Provider to activate")
		if err != nil || cfg == nil {
			return &CommandResult{}, err
		}
		return &CommandResult{}, a.activate(ctx, cfg)
	}})
	reg.Register(&Command{Name: "default", Description: "Set default provider", Handler: func(ctx context.Context) (*CommandResult, error) {
		cfg, err := a.pickProvider(ctx, "Default provider")
		if err != nil || cfg == nil {
			return &CommandResult{}, err
		}
		if err := a.store.SetDefault(ctx, cfg.ID); err != nil {
			return nil, err
		}
		a.registerDefault(ctx, cfg)
		return &CommandResult{Content: fmt.Sprintf("%s is now the default provider.", cfg.Name)}, nil
	}})
	reg.Register(&Command{Name: "delete", Description: "Delete a provider", Handler: a.deleteProviderCommand})
	reg.Register(&Command{Name: "list", Description: "Refresh the provider list", Handler: func(ctx context.Context) (*CommandResult, error) {
		_, err := a.showProviders(ctx)
		return &CommandResult{}, err
	}})
	reg.Register(&Command{Name: "back", Description: "Back", Handler: func(context.Context) (*CommandResult, error) {
		return &CommandResult{Exit: true}, nil
	}})
	return reg
}

func (a *App) changeProviderCommand(ctx context.Context) (*CommandResult, error) {
	prev := a.current
	if _, err := a.chooseProvider(ctx, "Back"); err != nil {
		return nil, err
	}
	if a.current == nil {
		return &CommandResult{Content: "No provider is active. LLM features are unavailable until one is chosen."}, nil
	}
	if prev != nil && prev.ID == a.current.ID {
		return &CommandResult{Content: fmt.Sprintf("Still using %s.", a.current.Name)}, nil
	}
	return &CommandResult{}, nil
}

func (a *App) deleteProviderCommand(ctx context.Context) (*CommandResult, error) {
	cfg, err := a.pickProvider(ctx, "Provider to delete")
	if err != nil || cfg == nil {
		return &CommandResult{}, err
	}
	ok, err := a.con.Confirm(fmt.Sprintf("Delete provider %q?", cfg.Name), false)
	if err != nil || !ok {
		return &CommandResult{Content: "Nothing deleted."}, err
	}
	if err := a.store.Delete(ctx, cfg.ID); err != nil {
		return nil, err
	}
	a.router.Remove(strconv.FormatInt(cfg.ID, 10))
	if a.current != nil && a.current.ID == cfg.ID {
		a.current = nil
		a.pipeline, a.qa = nil, nil
		a.con.Warn("The active provider was deleted.")
	}
	return &CommandResult{Content: fmt.Sprintf("Deleted %s.", cfg.Name)}, nil
}

// showProviders prints the provider table and returns the listed providers.
func (a *App) showProviders(ctx context.Context) ([]*provider.ProviderConfig, error) {
	list, err := a.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		a.con.Muted("No providers configured.")
		return nil, nil
	}
	active, def, err := a.store.Pointers(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(list))
	for i, p := range list {
		var marks []string
		if p.ID == active {
			marks = append(marks, "active")
		}
		if p.ID == def {
			marks = append(marks, "default")
		}
		emb := p.EmbeddingModel
		if emb == "" {
			emb = provider.FallbackEmbeddingModel(p.Model) + " (auto)"
		}
		rows[i] = []string{
			strconv.Itoa(i + 1), p.Name, p.Model, orDash(p.BaseURL),
			provider.MaskKey(p.APIKey), emb, strings.Join(marks, ", "),
		}
	}
	a.con.Table([]string{"#", "Name", "Model", "Base URL", "API key", "Embedding", "Status"}, rows)
	return list, nil
}

// pickProvider lists the providers and reads a selection. It returns nil
// when there is nothing to pick.
func (a *App) pickProvider(ctx context.Context, label string) (*provider.ProviderConfig, error) {
	list, err := a.showProviders(ctx)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	n, err := a.con.Choose(label, len(list), 0)
	if err != nil {
		return nil, err
	}
	return list[n-1], nil
}

// ensureDefault points the default at cfg when no default exists yet.
func (a *App) ensureDefault(ctx context.Context, cfg *provider.ProviderConfig) error {
	_, def, err := a.store.Pointers(ctx)
	if err != nil || def != 0 {
		return err
	}
	return a.store.SetDefault(ctx, cfg.ID)
}

// addProvider walks through the add-provider flow and saves the result as
// the active provider.
func (a *App) addProvider(ctx context.Context) (*provider.ProviderConfig, error) {
	families := provider.Families()
	names := make([]string, len(families))
	for i, f := range families {
		names[i] = f.Name
	}
	a.con.Menu("Provider type", names)
	n, err := a.con.Choose("Select provider type", len(families), 1)
	if err != nil {
		return nil, err
	}
	fam := families[n-1]

	cfg := &provider.ProviderConfig{BaseURL: fam.BaseURL}
	label, err := a.askModel(fam, cfg)
	if err != nil {
		return nil, err
	}
	if err := a.askKey(fam, cfg); err != nil {
		return nil, err
	}
	if err := a.askBaseURL(fam, cfg); err != nil {
		return nil, err
	}
	if err := a.askEmbedding(fam, cfg); err != nil {
		return nil, err
	}
	if err := a.saveNamed(ctx, cfg, label); err != nil {
		return nil, err
	}
	a.con.KeyValues("Provider saved", [][2]string{
		{"Name", cfg.Name},
		{"Model", cfg.Model},
		{"API key", provider.MaskKey(cfg.APIKey)},
		{"Base URL", orDash(cfg.BaseURL)},
		{"Embedding model", provider.ResolveEmbedding(cfg).Model},
	})
	return cfg, nil
}

// askModel fills cfg.Model and returns a suggested display name.
func (a *App) askModel(fam provider.Family, cfg *provider.ProviderConfig) (string, error) {
	if !fam.CustomOnly {
		items := make([]string, 0, len(fam.Presets)+1)
		for _, p := range fam.Presets {
			items = append(items, fmt.Sprintf("%s (%s)", p.Label, p.Model))
		}
		items = append(items, "Other model")
		a.con.Menu(fam.Name+" models", items)
		n, err := a.con.Choose("Select model", len(items), 1)
		if err != nil {
			return "", err
		}
		if n <= len(fam.Presets) {
			cfg.Model = fam.Presets[n-1].Model
			return fam.Presets[n-1].Label, nil
		}
	}
	model, err := a.con.AskValid("Model identifier", "", provider.ValidateModel)
	if err != nil {
		return "", err
	}
	cfg.Model = model
	return model, nil
}

func (a *App) askKey(fam provider.Family, cfg *provider.ProviderConfig) error {
	envSet := fam.KeyEnv != "" && os.Getenv(fam.KeyEnv) != ""
	if !fam.NeedsKey || envSet {
		if envSet {
			a.con.Muted("Leave empty to use %s from the environment.", fam.KeyEnv)
		}
		key, err := a.con.Secret("API key (optional)")
		cfg.APIKey = key
		return err
	}
	for {
		key, err := a.con.Secret("API key")
		if err != nil {
			return err
		}
		if key != "" {
			cfg.APIKey = key
			return nil
		}
		a.con.Error("api_key: must not be empty")
	}
}

func (a *App) askBaseURL(fam provider.Family, cfg *provider.ProviderConfig) error {
	switch fam.Kind {
	case provider.KindCompatible:
		v, err := a.con.AskValid("Base URL", "", func(s string) error {
			if s == "" {
				return &provider.ValidationError{Field: "base_url", Reason: "must not be empty"}
			}
			return provider.ValidateBaseURL("base_url", s)
		})
		cfg.BaseURL = v
		return err
	case provider.KindOllama:
		v, err := a.con.AskValid("Base URL", fam.BaseURL, func(s string) error {
			return provider.ValidateBaseURL("base_url", s)
		})
		cfg.BaseURL = v
		return err
	}
	return nil
}

func (a *App) askEmbedding(fam provider.Family, cfg *provider.ProviderConfig) error {
	separate := fam.Kind == provider.KindAnthropic
	if separate {
		a.con.Warn("Claude models do not produce embeddings. Configure an embedding model.")
	} else {
		a.con.Muted("Embeddings default to %s.", provider.FallbackEmbeddingModel(cfg.Model))
	}
	ok, err := a.con.Confirm("Configure a separate embedding model?", separate)
	if err != nil || !ok {
		return err
	}
	model, err := a.con.AskValid("Embedding model", provider.FallbackEmbeddingModel(cfg.Model), func(s string) error {
		if err := provider.ValidateModel(s); err != nil {
			return &provider.ValidationError{Field: "embedding_model", Reason: err.(*provider.ValidationError).Reason}
		}
		return nil
	})
	if err != nil {
		return err
	}
	cfg.EmbeddingModel = model
	if cfg.EmbeddingAPIKey, err = a.con.Secret("Embedding API key (empty reuses the main key)"); err != nil {
		return err
	}
	cfg.EmbeddingBaseURL, err = a.con.AskValid("Embedding base URL (empty reuses the main one)", "", func(s string) error {
		return provider.ValidateBaseURL("embedding_base_url", s)
	})
	return err
}

// saveNamed asks for a display name and saves cfg as active. A taken name
// can be overwritten after confirmation or replaced by another name.
func (a *App) saveNamed(ctx context.Context, cfg *provider.ProviderConfig, suggested string) error {
	for {
		name, err := a.con.AskValid("Display name", suggested, provider.ValidateName)
		if err != nil {
			return err
		}
		cfg.Name = name
		_, err = a.store.Save(ctx, cfg, true)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrDuplicateName) {
			return err
		}
		ok, err := a.con.Confirm(fmt.Sprintf("A provider named %q exists. Overwrite it?", name), false)
		if err != nil {
			return err
		}
		if !ok {
			suggested = ""
			continue
		}
		existing, err := a.store.GetByName(ctx, name)
		if err != nil {
			return err
		}
		cfg.ID = existing.ID
		if _, err := a.store.Save(ctx, cfg, true); err != nil {
			return err
		}
		return nil
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
