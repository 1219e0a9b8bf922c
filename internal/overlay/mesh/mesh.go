// Package mesh implements the fully-connected overlay strategy: every
// node attempts to hold an approved connection to every seed and every
// neighbor it has learned of transitively.
package mesh

import (
	"context"
	"sync"

	"overlaynet/internal/addr"
	"overlaynet/internal/overlay"
)

// Strategy is the mesh overlay.Strategy implementation.
type Strategy struct {
	core overlay.Core

	mu     sync.Mutex
	known  map[addr.NodeAddress]struct{}
}

// New returns a mesh strategy bound to core.
func New(core overlay.Core) *Strategy {
	return &Strategy{core: core, known: make(map[addr.NodeAddress]struct{})}
}

func (s *Strategy) NetworkType() string { return "mesh" }

// OnApprovalGranted and OnApprovalRequestGranted both react to a freshly
// approved peer the same way: remember it, ask it for its own approved
// neighbor list, and attempt approval with every neighbor it names other
// than ourselves. This is what lets a joining node converge on the full
// mesh immediately rather than waiting for the next UpdateNetwork tick.
func (s *Strategy) OnApprovalGranted(peer addr.NodeAddress) {
	s.expand(peer)
}

func (s *Strategy) OnApprovalRequestGranted(peer addr.NodeAddress) {
	s.expand(peer)
}

func (s *Strategy) expand(peer addr.NodeAddress) {
	s.remember(peer)
	ctx := context.Background()
	neighbors, err := s.core.RequestNeighbors(ctx, peer)
	if err != nil {
		return
	}
	for _, n := range neighbors {
		if n.Equal(s.core.Self()) {
			continue
		}
		s.remember(n)
		_, _ = s.core.GetApproval(ctx, n)
	}
}

func (s *Strategy) remember(peer addr.NodeAddress) {
	s.mu.Lock()
	s.known[peer] = struct{}{}
	s.mu.Unlock()
}

// HandleSystemMessage is unused by mesh: mesh has no System-kind
// protocol of its own, everything it needs is carried by Approval and
// Neighbors frames.
func (s *Strategy) HandleSystemMessage(ctx context.Context, req overlay.SystemRequest) (string, bool) {
	return "", false
}

// UpdateNetwork asks every currently approved neighbor for its neighbor
// list, merges the results into the known set, then attempts to
// (re)establish approval with every seed and every known address this
// node is not yet connected to. This is the mesh generalization of the
// specification's connection-repair update loop.
func (s *Strategy) UpdateNetwork(ctx context.Context) {
	approved := s.core.ApprovedNeighbors()
	approvedSet := make(map[addr.NodeAddress]struct{}, len(approved))
	for _, a := range approved {
		approvedSet[a] = struct{}{}
		s.remember(a)
	}

	for _, a := range approved {
		neighbors, err := s.core.RequestNeighbors(ctx, a)
		if err != nil {
			continue
		}
		for _, n := range neighbors {
			if n.Equal(s.core.Self()) {
				continue
			}
			s.remember(n)
		}
	}

	targets := s.core.Seeds()
	s.mu.Lock()
	for a := range s.known {
		targets = append(targets, a)
	}
	s.mu.Unlock()

	for _, a := range targets {
		if a.Equal(s.core.Self()) {
			continue
		}
		if _, ok := approvedSet[a]; ok {
			continue
		}
		granted, err := s.core.GetApproval(ctx, a)
		if err == nil && granted {
			approvedSet[a] = struct{}{}
		}
	}
}
