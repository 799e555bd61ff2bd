package graph

import (
	"context"
	"sort"
)

// Influence weights
const (
	weightSent     = 1.0
	weightReceived = 0.5
	weightDecision = 3.0
	weightAction   = 2.0
)

// PersonInfluence scores a person's activity within one project
type PersonInfluence struct {
	Key              string  `json:"key"`
	Name             string  `json:"name,omitempty"`
	Email            string  `json:"email,omitempty"`
	MessagesSent     int     `json:"messages_sent"`
	MessagesReceived int     `json:"messages_received"`
	DecisionsMade    int     `json:"decisions_made"`
	ActionsOwned     int     `json:"actions_owned"`
	Score            float64 `json:"score"`
}

// Collaboration counts the messages two people share
type Collaboration struct {
	PersonA        string `json:"person_a"`
	PersonB        string `json:"person_b"`
	SharedMessages int    `json:"shared_messages"`
}

// ============================================================================
// Analytics Operations
// ============================================================================

// InfluenceMap scores everyone in a project graph, highest first
func (m *Manager) InfluenceMap(ctx context.Context, projectID string) ([]PersonInfluence, error) {
	if !m.backend.Connected() {
		return []PersonInfluence{}, nil
	}
	graph := m.naming.GraphName(projectID)

	people, err := m.backend.FindNodes(ctx, graph, NodeFilter{Label: LabelPerson})
	if err != nil {
		return nil, err
	}
	rels, err := m.backend.ListRelationships(ctx, graph, "")
	if err != nil {
		return nil, err
	}

	scores := make(map[string]*PersonInfluence, len(people))
	for _, p := range people {
		scores[p.ID] = &PersonInfluence{Key: p.ID, Name: p.String("name"), Email: p.String("email")}
	}
	get := func(key string) *PersonInfluence {
		pi, ok := scores[key]
		if !ok {
			pi = &PersonInfluence{Key: key}
			scores[key] = pi
		}
		return pi
	}

	for _, r := range rels {
		switch r.Type {
		case RelSent:
			get(r.FromID).MessagesSent++
		case RelSentTo:
			get(r.ToID).MessagesReceived++
		case RelDecidedBy:
			get(r.ToID).DecisionsMade++
		case RelAssignedTo:
			get(r.ToID).ActionsOwned++
		}
	}

	out := make([]PersonInfluence, 0, len(scores))
	for _, pi := range scores {
		pi.Score = float64(pi.MessagesSent)*weightSent +
			float64(pi.MessagesReceived)*weightReceived +
			float64(pi.DecisionsMade)*weightDecision +
			float64(pi.ActionsOwned)*weightAction
		out = append(out, *pi)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// TeamDynamics counts, for every pair of people, the messages both took
// part in as sender or recipient. Most frequent pairs first.
func (m *Manager) TeamDynamics(ctx context.Context, projectID string) ([]Collaboration, error) {
	if !m.backend.Connected() {
		return []Collaboration{}, nil
	}
	graph := m.naming.GraphName(projectID)

	rels, err := m.backend.ListRelationships(ctx, graph, "")
	if err != nil {
		return nil, err
	}

	participants := map[string]map[string]bool{}
	add := func(messageID, person string) {
		set, ok := participants[messageID]
		if !ok {
			set = map[string]bool{}
			participants[messageID] = set
		}
		set[person] = true
	}
	for _, r := range rels {
		switch r.Type {
		case RelSent:
			add(r.ToID, r.FromID)
		case RelSentTo:
			add(r.FromID, r.ToID)
		}
	}

	type pair struct{ a, b string }
	counts := map[pair]int{}
	for _, set := range participants {
		people := make([]string, 0, len(set))
		for p := range set {
			people = append(people, p)
		}
		sort.Strings(people)
		for i := 0; i < len(people); i++ {
			for j := i + 1; j < len(people); j++ {
				counts[pair{people[i], people[j]}]++
			}
		}
	}

	out := make([]Collaboration, 0, len(counts))
	for p, n := range counts {
		out = append(out, Collaboration{PersonA: p.a, PersonB: p.b, SharedMessages: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SharedMessages != out[j].SharedMessages {
			return out[i].SharedMessages > out[j].SharedMessages
		}
		if out[i].PersonA != out[j].PersonA {
			return out[i].PersonA < out[j].PersonA
		}
		return out[i].PersonB < out[j].PersonB
	})
	return out, nil
}
