package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"datalayer/internal/domain"
	"datalayer/internal/presenter"
	"datalayer/internal/service"
)

// connectOnce opens a single connection for one-shot commands
func connectOnce(ctx context.Context, e *env) (peerTransport, error) {
	connect, err := connectorFor(ctx, e)
	if err != nil {
		return nil, err
	}
	t, _, err := connect(ctx)
	return t, err
}

func runDiscover(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("discover: at least one preset or capability name is required")
	}

	t, err := connectOnce(ctx, e)
	if err != nil {
		return err
	}
	defer t.Close()

	console := presenter.NewConsole(os.Stdout, 0)
	directory := service.NewCapabilityDirectory(t, console, nil, e.logger)

	var query []domain.CapabilityName
	for _, arg := range args {
		query = append(query, e.cfg.Preset(arg)...)
	}
	e.logger.Debug("discovering", "capabilities", query)
	nodes, err := directory.Discover(ctx, query...)
	if err != nil {
		return err
	}
	for _, n := range nodes.Sorted() {
		fmt.Printf("%s\t%s\n", n.ID, n.Label())
	}
	return nil
}
