// Package ui provides interactive console prompts for the session generator.
package ui

import (
	"strings"

	"github.com/manifoldco/promptui"
)

// ConsoleUI collects authentication input from the terminal.
type ConsoleUI struct{}

// NewConsoleUI creates a console prompt source.
func NewConsoleUI() *ConsoleUI {
	return &ConsoleUI{}
}

// GetPhoneNumber prompts for the phone number in international format.
func (u *ConsoleUI) GetPhoneNumber() (string, error) {
	prompt := promptui.Prompt{
		Label: "Phone number (international format, e.g. +15551234567)",
		Validate: func(s string) error {
			s = strings.TrimSpace(s)
			if !strings.HasPrefix(s, "+") || len(s) < 8 {
				return promptui.ErrAbort
			}
			return nil
		},
	}
	result, err := prompt.Run()
	return strings.TrimSpace(result), err
}

// GetCode prompts for the login code sent by the platform.
func (u *ConsoleUI) GetCode() (string, error) {
	prompt := promptui.Prompt{
		Label: "Login code",
	}
	result, err := prompt.Run()
	return strings.TrimSpace(result), err
}

// GetPassword prompts for the two-factor password, masked.
func (u *ConsoleUI) GetPassword() (string, error) {
	prompt := promptui.Prompt{
		Label: "Two-factor password",
		Mask:  '*',
	}
	return prompt.Run()
}
