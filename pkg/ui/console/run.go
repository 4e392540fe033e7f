// Package console is a terminal frontend for a running kernel.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gokernel/pkg/client"
	"gokernel/pkg/protocol"
)

// Kernel is the part of client.Client the console drives.
type Kernel interface {
	KernelInfo(ctx context.Context) (*protocol.KernelInfoReply, error)
	Execute(ctx context.Context, code string, opts client.ExecuteOptions) (*client.Result, error)
	Interrupt(ctx context.Context) error
}

var errNoConsole = errors.New("console is not running")

// InputBridge routes kernel input requests into the running console. Pass
// its Input method as client.Options.Input before connecting.
type InputBridge struct {
	mu      sync.Mutex
	program *tea.Program
}

func (b *InputBridge) attach(program *tea.Program) {
	b.mu.Lock()
	b.program = program
	b.mu.Unlock()
}

// Input asks the console user for a line.
func (b *InputBridge) Input(ctx context.Context, prompt string, password bool) (string, error) {
	b.mu.Lock()
	program := b.program
	b.mu.Unlock()
	if program == nil {
		return "", errNoConsole
	}

	reply := make(chan string, 1)
	program.Send(inputRequestMsg{prompt: prompt, password: password, reply: reply})

	select {
	case answer := <-reply:
		return answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RunInteractive runs the console until the user quits. bridge may be nil,
// in which case cells run with stdin disabled.
func RunInteractive(ctx context.Context, kernel Kernel, bridge *InputBridge) error {
	info, err := kernel.KernelInfo(ctx)
	if err != nil {
		return fmt.Errorf("kernel info: %w", err)
	}

	execute := func(ctx context.Context, code string) (*client.Result, error) {
		return kernel.Execute(ctx, code, client.ExecuteOptions{AllowStdin: bridge != nil})
	}

	model := newModel(ctx, execute, kernel.Interrupt, KernelInfo{
		Implementation: info.Implementation,
		Language:       info.LanguageInfo.Name,
		Protocol:       info.ProtocolVersion,
		Banner:         info.Banner,
	})
	program := tea.NewProgram(model, tea.WithMouseCellMotion())
	if bridge != nil {
		bridge.attach(program)
		defer bridge.attach(nil)
	}

	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render("Kernel session closed")
}
