// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Media is one attachment of a relayed post. Video is set for videos and
// animated GIFs; Image is then the still shown if the video cannot be.
type Media struct {
	Image string `json:"image"`
	Video string `json:"video,omitempty"`
}

// MediaProcessor validates or transforms a media entry before delivery.
type MediaProcessor interface {
	ProcessMedia(ctx context.Context, m Media) (Media, error)
}

// PassthroughMedia accepts every entry unchanged.
type PassthroughMedia struct{}

func (PassthroughMedia) ProcessMedia(_ context.Context, m Media) (Media, error) {
	return m, nil
}

// MediaOutcome is the result of processing one entry. On failure Media
// holds the original entry.
type MediaOutcome struct {
	Media Media
	Err   error
}

// processMediaBatch runs every entry concurrently and waits for all of
// them. A failing entry never cancels the others. The returned error is
// only set when a task broke down (panicked); outcomes are complete either
// way.
func processMediaBatch(ctx context.Context, proc MediaProcessor, items []Media) ([]MediaOutcome, error) {
	outcomes := make([]MediaOutcome, len(items))
	var g errgroup.Group
	for i, item := range items {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = MediaOutcome{Media: item, Err: fmt.Errorf("media processor panicked: %v", r)}
					err = fmt.Errorf("media task %d panicked: %v", i, r)
				}
			}()
			out, perr := proc.ProcessMedia(ctx, item)
			if perr != nil {
				outcomes[i] = MediaOutcome{Media: item, Err: perr}
				return nil
			}
			outcomes[i] = MediaOutcome{Media: out}
			return nil
		})
	}
	return outcomes, g.Wait()
}
