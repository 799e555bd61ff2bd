package graph

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// crossProjectConcurrency bounds the per-tenant fan-out
const crossProjectConcurrency = 8

// CrossProjectPerson is a person appearing in more than one project graph
type CrossProjectPerson struct {
	Key      string   `json:"key"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Projects []string `json:"projects"`
}

// ProjectConnection is another project sharing people with the subject
type ProjectConnection struct {
	ProjectID    string   `json:"project_id"`
	SharedPeople []string `json:"shared_people"`
	Strength     int      `json:"strength"`
}

// PersonProject is one project a person takes part in
type PersonProject struct {
	ProjectID        string `json:"project_id"`
	Graph            string `json:"graph"`
	MessagesSent     int    `json:"messages_sent"`
	MessagesReceived int    `json:"messages_received"`
}

// ============================================================================
// Cross-Project Operations
// ============================================================================

// forEachProjectGraph runs fn for every tenant graph with bounded
// concurrency. fn is read-only; results are merged by the caller under mu.
func (m *Manager) forEachProjectGraph(ctx context.Context, fn func(ctx context.Context, graph, projectID string) error) error {
	graphs, err := m.projectGraphs(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(crossProjectConcurrency)
	for name, projectID := range graphs {
		g.Go(func() error {
			return fn(gctx, name, projectID)
		})
	}
	return g.Wait()
}

// projectPeople returns the Person nodes of every project graph
func (m *Manager) projectPeople(ctx context.Context) (map[string][]Node, error) {
	var mu sync.Mutex
	out := map[string][]Node{}
	err := m.forEachProjectGraph(ctx, func(ctx context.Context, graph, projectID string) error {
		people, err := m.backend.FindNodes(ctx, graph, NodeFilter{Label: LabelPerson})
		if err != nil {
			return err
		}
		mu.Lock()
		out[projectID] = people
		mu.Unlock()
		return nil
	})
	return out, err
}

// FindCrossProjectPeople returns people present in at least minProjects
// project graphs (default 2), most widely shared first.
func (m *Manager) FindCrossProjectPeople(ctx context.Context, minProjects int) ([]CrossProjectPerson, error) {
	if !m.backend.Connected() {
		return []CrossProjectPerson{}, nil
	}
	if minProjects < 2 {
		minProjects = 2
	}

	byProject, err := m.projectPeople(ctx)
	if err != nil {
		return nil, err
	}

	people := map[string]*CrossProjectPerson{}
	for projectID, nodes := range byProject {
		for _, n := range nodes {
			p, ok := people[n.ID]
			if !ok {
				p = &CrossProjectPerson{Key: n.ID}
				people[n.ID] = p
			}
			if p.Name == "" {
				p.Name = n.String("name")
			}
			if p.Email == "" {
				p.Email = n.String("email")
			}
			p.Projects = append(p.Projects, projectID)
		}
	}

	out := []CrossProjectPerson{}
	for _, p := range people {
		if len(p.Projects) < minProjects {
			continue
		}
		sort.Strings(p.Projects)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Projects) != len(out[j].Projects) {
			return len(out[i].Projects) > len(out[j].Projects)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// FindProjectConnections lists the projects sharing people with projectID,
// strongest connection first.
func (m *Manager) FindProjectConnections(ctx context.Context, projectID string) ([]ProjectConnection, error) {
	if !m.backend.Connected() {
		return []ProjectConnection{}, nil
	}

	byProject, err := m.projectPeople(ctx)
	if err != nil {
		return nil, err
	}
	own := map[string]bool{}
	for _, n := range byProject[projectID] {
		own[n.ID] = true
	}

	out := []ProjectConnection{}
	for other, nodes := range byProject {
		if other == projectID {
			continue
		}
		var shared []string
		for _, n := range nodes {
			if own[n.ID] {
				shared = append(shared, n.ID)
			}
		}
		if len(shared) == 0 {
			continue
		}
		sort.Strings(shared)
		out = append(out, ProjectConnection{ProjectID: other, SharedPeople: shared, Strength: len(shared)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].ProjectID < out[j].ProjectID
	})
	return out, nil
}

// FindPersonProjects lists the projects a person appears in. person is an
// email address or a display name.
func (m *Manager) FindPersonProjects(ctx context.Context, person string) ([]PersonProject, error) {
	if !m.backend.Connected() {
		return []PersonProject{}, nil
	}
	person = strings.TrimSpace(person)
	if person == "" {
		return []PersonProject{}, nil
	}

	var mu sync.Mutex
	out := []PersonProject{}
	err := m.forEachProjectGraph(ctx, func(ctx context.Context, graph, projectID string) error {
		key, err := m.personKeyIn(ctx, graph, person)
		if err != nil || key == "" {
			return err
		}

		rels, err := m.backend.ListRelationships(ctx, graph, "")
		if err != nil {
			return err
		}
		pp := PersonProject{ProjectID: projectID, Graph: graph}
		for _, r := range rels {
			switch {
			case r.Type == RelSent && r.FromID == key:
				pp.MessagesSent++
			case r.Type == RelSentTo && r.ToID == key:
				pp.MessagesReceived++
			}
		}

		mu.Lock()
		out = append(out, pp)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		ai := out[i].MessagesSent + out[i].MessagesReceived
		aj := out[j].MessagesSent + out[j].MessagesReceived
		if ai != aj {
			return ai > aj
		}
		return out[i].ProjectID < out[j].ProjectID
	})
	return out, nil
}

// personKeyIn finds the Person node id for an address or name in one
// graph, or "" when the person is absent.
func (m *Manager) personKeyIn(ctx context.Context, graph, person string) (string, error) {
	filter := NodeFilter{Label: LabelPerson, Limit: 1}
	if strings.Contains(person, "@") {
		filter.Properties = map[string]interface{}{"email": strings.ToLower(person)}
	} else {
		filter.Properties = map[string]interface{}{"name_lower": normalizeName(person)}
	}
	nodes, err := m.backend.FindNodes(ctx, graph, filter)
	if err != nil || len(nodes) == 0 {
		return "", err
	}
	return nodes[0].ID, nil
}
