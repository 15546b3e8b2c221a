package p2p

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Broadcast sends text to every active peer concurrently. It returns the
// joined per-peer failures; peers that accepted the message are not retried.
func (n *Network) Broadcast(ctx context.Context, text string) error {
	peers := n.ActivePeers()
	errs := make([]error, len(peers))

	var g errgroup.Group
	for i, peer := range peers {
		g.Go(func() error {
			if err := n.SendMessage(ctx, peer, text); err != nil {
				errs[i] = fmt.Errorf("peer %d: %w", peer, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
