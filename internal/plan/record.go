package plan

// ActionRecord is the serialisable view of an action, used by the stores and
// the status server.
type ActionRecord struct {
	Index       int      `json:"index"`
	Kind        Kind     `json:"kind"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Description string   `json:"description"`
	Elements    []string `json:"elements"`
	DependsOn   []int    `json:"depends_on,omitempty"`
}

// PlanRecord is the serialisable view of a plan.
type PlanRecord struct {
	ID          string         `json:"id"`
	CreatedAt   int64          `json:"created_at"`
	Duration    int            `json:"duration"`
	Source      string         `json:"source"`
	Destination string         `json:"destination,omitempty"`
	Actions     []ActionRecord `json:"actions"`
}

// NewActionRecord describes action i of a dependency graph.
func NewActionRecord(g *Graph, i int) ActionRecord {
	a := g.Action(i)
	elements := Elements(a)
	names := make([]string, len(elements))
	for k, e := range elements {
		names[k] = e.ElementName()
	}
	return ActionRecord{
		Index:       i,
		Kind:        a.Kind(),
		Start:       a.Start(),
		End:         a.End(),
		Description: a.String(),
		Elements:    names,
		DependsOn:   append([]int(nil), g.Predecessors(i)...),
	}
}

// Record builds the serialisable view of the plan.
func (p *TimedReconfigurationPlan) Record() (*PlanRecord, error) {
	g, err := p.Graph()
	if err != nil {
		return nil, err
	}
	rec := &PlanRecord{
		ID:        p.ID.String(),
		CreatedAt: p.CreatedAt.Unix(),
		Duration:  p.Duration(),
		Source:    p.Source.String(),
		Actions:   make([]ActionRecord, g.Len()),
	}
	if p.Destination != nil {
		rec.Destination = p.Destination.String()
	}
	for i := 0; i < g.Len(); i++ {
		rec.Actions[i] = NewActionRecord(g, i)
	}
	return rec, nil
}
