// Package realdialog implements ports.DialogProvider with a charmbracelet/huh
// TUI form. The MCP server's stdin/stdout carry the protocol, so the form
// talks to the controlling terminal directly via /dev/tty.
package realdialog

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/acolita/remote-shell-mcp/internal/ports"
)

// Provider implements ports.DialogProvider.
type Provider struct{}

// New returns a TUI dialog provider.
func New() *Provider {
	return &Provider{}
}

// ServerConfigForm shows the add-server form pre-filled with the given data.
func (p *Provider) ServerConfigForm(prefill ports.ServerFormData) (ports.ServerFormData, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return prefill, fmt.Errorf("open terminal: %w", err)
	}
	defer tty.Close()

	result := prefill
	portStr := strconv.Itoa(prefill.Port)
	if portStr == "0" {
		portStr = "22"
	}
	var confirmed bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server Name").
				Description("Short name for this server (e.g. 'production')").
				Value(&result.Name),

			huh.NewInput().
				Title("Host").
				Description("Hostname, IP, or glob pattern").
				Value(&result.Host),

			huh.NewInput().
				Title("Port").
				Description("SSH port").
				Value(&portStr),

			huh.NewInput().
				Title("User").
				Description("SSH username").
				Value(&result.User),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Password Env Var").
				Description("Environment variable holding the SSH password (optional)").
				Value(&result.PasswordEnv),

			huh.NewInput().
				Title("Sudo Password Env Var").
				Description("Environment variable holding the sudo password (optional)").
				Value(&result.SudoPasswordEnv),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this server configuration?").
				Value(&confirmed),
		),
	).WithInput(tty).WithOutput(tty)

	if err := form.Run(); err != nil {
		return prefill, err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		port = 22
	}
	result.Port = port
	result.Confirmed = confirmed
	return result, nil
}

var _ ports.DialogProvider = (*Provider)(nil)
