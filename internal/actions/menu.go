package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/transport"
)

// MainMenuID is the menu shown by the built-in navigation actions.
const MainMenuID = "main-menu"

// MenuAction is one button of a declarative menu. An action without a
// handler whose id names another menu navigates to it.
type MenuAction struct {
	ID       string
	Label    string
	Style    content.ActionStyle
	Metadata map[string]any
	Handler  Handler
	// ShowNavigationOptions re-shows the last menu after Handler ran.
	ShowNavigationOptions bool
}

// Menu is a titled list of actions.
type Menu struct {
	ID      string
	Title   string
	Actions []MenuAction
}

// AppOptions tune menu behavior.
type AppOptions struct {
	// DisableAutoShowMenu makes ShowNavigationOptions send plain text.
	DisableAutoShowMenu      bool
	DefaultNavigationMessage string
}

// AppConfig is a declarative set of menus.
type AppConfig struct {
	Name    string
	Menus   map[string]Menu
	Options AppOptions
}

// Install registers every handler declared by cfg, plus deferred handlers,
// auto-navigation for actions naming other menus, and the main-menu /
// back-to-main shortcuts.
func Install(reg *Registry, cfg *AppConfig, deferred map[string]Handler) {
	slog.Info("initializing action menus", "app", cfg.Name, "menus", len(cfg.Menus))

	for _, menu := range cfg.Menus {
		for _, action := range menu.Actions {
			if action.Handler == nil {
				continue
			}
			h, nav := action.Handler, action.ShowNavigationOptions
			reg.Register(action.ID, func(ctx context.Context, call *Call) error {
				if err := h(ctx, call); err != nil {
					return err
				}
				if nav {
					return ShowLastMenu(ctx, call.Conversation, call.Session, cfg)
				}
				return nil
			})
			slog.Debug("registered menu action", "action", action.ID, "auto_navigation", nav)
		}
	}

	for id, h := range deferred {
		reg.Register(id, h)
		slog.Debug("registered deferred action", "action", id)
	}

	for _, menu := range cfg.Menus {
		for _, action := range menu.Actions {
			if action.Handler != nil {
				continue
			}
			if _, ok := cfg.Menus[action.ID]; !ok {
				continue
			}
			target := action.ID
			reg.Register(target, func(ctx context.Context, call *Call) error {
				return ShowMenu(ctx, call.Conversation, call.Session, cfg, target)
			})
			slog.Debug("registered menu navigation", "menu", target)
		}
	}

	toMain := func(ctx context.Context, call *Call) error {
		return ShowMenu(ctx, call.Conversation, call.Session, cfg, MainMenuID)
	}
	reg.Register(MainMenuID, toMain)
	reg.Register("back-to-main", toMain)
}

// ShowMenu sends menu menuID of cfg and remembers it as the session's last
// menu. An unknown menu id is reported to the user.
func ShowMenu(ctx context.Context, conv transport.Conversation, sess *Session, cfg *AppConfig, menuID string) error {
	menu, ok := cfg.Menus[menuID]
	if !ok {
		slog.Warn("menu not found", "menu", menuID)
		_, err := transport.SendText(ctx, conv, fmt.Sprintf("❌ Menu not found: %s", menuID))
		return err
	}
	if sess != nil {
		sess.setLastMenu(menuID)
	}

	b := NewBuilder(menuID, menu.Title)
	for _, a := range menu.Actions {
		b.Add(content.Action{ID: a.ID, Label: a.Label, Style: a.Style, Metadata: a.Metadata})
	}
	return b.Send(ctx, conv, sess)
}

// ShowLastMenu re-sends the session's last menu, or a notice when none.
func ShowLastMenu(ctx context.Context, conv transport.Conversation, sess *Session, cfg *AppConfig) error {
	var last string
	if sess != nil {
		last = sess.LastMenu()
	}
	if last == "" {
		slog.Warn("no last menu to show, falling back to main menu")
		_, err := transport.SendText(ctx, conv, "Returning to main menu...")
		return err
	}
	return ShowMenu(ctx, conv, sess, cfg, last)
}

// ShowNavigationOptions sends message with custom (or the main menu's)
// buttons. With auto-show disabled only the text is sent.
func ShowNavigationOptions(ctx context.Context, conv transport.Conversation, sess *Session, cfg *AppConfig, message string, custom []content.Action) error {
	if message == "" {
		message = cfg.Options.DefaultNavigationMessage
	}
	if cfg.Options.DisableAutoShowMenu {
		_, err := transport.SendText(ctx, conv, message)
		return err
	}

	b := NewBuilder("navigation-options", message)
	if custom != nil {
		for _, a := range custom {
			b.Add(a)
		}
	} else if main, ok := cfg.Menus[MainMenuID]; ok {
		for _, a := range main.Actions {
			b.Add(content.Action{ID: a.ID, Label: a.Label, Style: a.Style})
		}
	}
	return b.Send(ctx, conv, sess)
}
