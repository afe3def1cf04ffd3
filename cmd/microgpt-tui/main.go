package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"microgpt-go/pkg/config"
	"microgpt-go/pkg/runlog"
	"microgpt-go/pkg/session"
)

func run() error {
	sess := session.New()
	if path := config.RunFromEnv().RunDB; path != "" {
		store, err := runlog.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		sess.SetRecorder(store)
	}
	_, err := tea.NewProgram(newApp(sess), tea.WithAltScreen()).Run()
	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}
