// ABOUTME: Session persistence for the keygate client
// ABOUTME: Stores the bound user ID next to the device key in the state dir

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const sessionFile = "session.json"

// Session is the durable identity binding. Clearing it never touches the
// device key; the device identifier survives logout.
type Session struct {
	UserID string `json:"user_id"`
}

func sessionPath(stateDir string) string {
	return filepath.Join(stateDir, sessionFile)
}

// loadSession returns the saved session, or nil when logged out.
func loadSession(stateDir string) (*Session, error) {
	data, err := os.ReadFile(sessionPath(stateDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	if sess.UserID == "" {
		return nil, nil
	}
	return &sess, nil
}

func saveSession(stateDir string, sess *Session) error {
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.WriteFile(sessionPath(stateDir), data, 0600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

// clearSession removes the session file. Missing is fine.
func clearSession(stateDir string) error {
	err := os.Remove(sessionPath(stateDir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}
