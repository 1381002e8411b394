package graph

import (
	"fmt"
	"log"
	"net/http"

	"github.com/sweeney/homegraph/internal/control"
)

// DefaultMaxDepth bounds nested propagation. A configuration with a cycle
// stops here with a log line instead of overflowing the stack.
const DefaultMaxDepth = 256

// Registry owns every node. Edges are indices into its node slice.
type Registry struct {
	env    Env
	nodes  []Node
	byName map[string]int

	connected bool
	activated bool

	depth    int
	maxDepth int
}

// NewRegistry creates an empty registry. Unset Env fields get defaults.
func NewRegistry(env Env) *Registry {
	env.fill()
	return &Registry{
		env:      env,
		byName:   make(map[string]int),
		maxDepth: DefaultMaxDepth,
	}
}

// Env returns the registry's environment.
func (r *Registry) Env() Env { return r.env }

// New constructs an unregistered node from a descriptor.
func New(d Descriptor) (Node, error) {
	if d.Name == "" {
		return nil, configErr(d.Name, "name", ErrMissingField)
	}
	if d.Type == "" {
		return nil, configErr(d.Name, "type", ErrMissingField)
	}
	k, ok := ParseKind(d.Type)
	if !ok {
		return nil, configErr(d.Name, "type", ErrUnknownType, d.Type)
	}
	return constructors[k](newBase(d, k))
}

// Register adds n and assigns its id.
func (r *Registry) Register(n Node) error {
	b := n.core()
	if b.reg != nil {
		return configErr(b.desc.Name, "", ErrDuplicateName, "already registered")
	}
	if _, ok := r.byName[b.desc.Name]; ok {
		return configErr(b.desc.Name, "name", ErrDuplicateName)
	}
	if r.connected {
		return configErr(b.desc.Name, "", ErrBadTopology, "registry already connected")
	}
	b.reg = r
	b.self = n
	b.id = len(r.nodes)
	r.byName[b.desc.Name] = b.id
	r.nodes = append(r.nodes, n)
	return nil
}

// Add constructs and registers a node.
func (r *Registry) Add(d Descriptor) (Node, error) {
	n, err := New(d)
	if err != nil {
		return nil, err
	}
	if err := r.Register(n); err != nil {
		return nil, err
	}
	return n, nil
}

// Build adds every descriptor and connects the graph. It stops at the first
// error. Nothing is activated.
func (r *Registry) Build(descs []Descriptor) error {
	for _, d := range descs {
		if _, err := r.Add(d); err != nil {
			return err
		}
	}
	return r.ConnectAll()
}

// ConnectAll resolves every upstream name and links the reciprocal
// downstream edge. A second call is a no-op.
func (r *Registry) ConnectAll() error {
	if r.connected {
		return nil
	}
	for _, n := range r.nodes {
		b := n.core()
		for _, name := range b.desc.Upstream {
			u, ok := r.byName[name]
			if !ok {
				return configErr(b.desc.Name, "upstream", ErrUnresolvedUpstream, name)
			}
			b.ups = append(b.ups, u)
			ub := r.nodes[u].core()
			ub.downs = append(ub.downs, b.id)
		}
	}
	if err := r.checkTopology(); err != nil {
		return err
	}
	r.connected = true
	return nil
}

func (r *Registry) checkTopology() error {
	for _, n := range r.nodes {
		b := n.core()
		switch b.kind {
		case KindPushButton, KindLevelButton, KindOneWireBus:
			if len(b.ups) > 0 {
				return configErr(b.desc.Name, "upstream", ErrBadTopology, b.kind, " takes no upstream")
			}
		case KindRegulator:
			if len(b.ups) == 0 {
				return configErr(b.desc.Name, "upstream", ErrMissingField)
			}
		case KindThermometer:
			if len(b.ups) != 1 || r.nodes[b.ups[0]].Kind() != KindOneWireBus {
				return configErr(b.desc.Name, "upstream", ErrBadTopology, "thermometer needs exactly one onewirebus upstream")
			}
		case KindDigitalOut:
			if len(b.downs) > 0 {
				return configErr(b.desc.Name, "", ErrBadTopology, "digitalout is terminal")
			}
		}
		for _, u := range b.ups {
			if r.nodes[u].Kind() == KindOneWireBus && b.kind != KindThermometer {
				return configErr(b.desc.Name, "upstream", ErrBadTopology, "only thermometers attach to a onewirebus")
			}
		}
	}
	return nil
}

// ActivateAll activates every node in registration order. A second call is
// a no-op.
func (r *Registry) ActivateAll() error {
	if r.activated {
		return nil
	}
	if !r.connected {
		return fmt.Errorf("activate: registry not connected")
	}
	for _, n := range r.nodes {
		if err := n.Activate(); err != nil {
			return fmt.Errorf("activate %s: %w", n.Name(), err)
		}
	}
	r.activated = true
	log.Printf("graph: %d nodes active", len(r.nodes))
	return nil
}

// fanout calls Propagate on every downstream node of n, depth first.
func (r *Registry) fanout(n Node) {
	b := n.core()
	if len(b.downs) == 0 {
		return
	}
	if r.depth >= r.maxDepth {
		log.Printf("graph: %s: propagation depth %d reached, stopping", b.desc.Name, r.depth)
		return
	}
	r.depth++
	defer func() { r.depth-- }()
	for _, d := range b.downs {
		r.nodes[d].Propagate(n)
	}
}

// Lookup finds a node by name.
func (r *Registry) Lookup(name string) (Node, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.nodes[i], true
}

// Nodes returns all nodes in id order.
func (r *Registry) Nodes() []Node {
	return append([]Node(nil), r.nodes...)
}

// Len returns the number of nodes.
func (r *Registry) Len() int { return len(r.nodes) }

// Upstream returns the resolved upstream nodes of n.
func (r *Registry) Upstream(n Node) []Node {
	return n.core().upstream()
}

// Downstream returns the nodes n propagates to.
func (r *Registry) Downstream(n Node) []Node {
	b := n.core()
	out := make([]Node, len(b.downs))
	for i, d := range b.downs {
		out[i] = r.nodes[d]
	}
	return out
}

// Snapshot returns every node's state keyed by name.
func (r *Registry) Snapshot() map[string]State {
	out := make(map[string]State, len(r.nodes))
	for _, n := range r.nodes {
		out[n.Name()] = n.State()
	}
	return out
}

// Act runs a set action on a node.
func (r *Registry) Act(name, action string, params map[string]string) error {
	n, ok := r.Lookup(name)
	if !ok {
		return &ControlError{Node: name, Action: action, Err: ErrUnknownAction}
	}
	a, ok := actionsOf(n)[action]
	if !ok {
		return &ControlError{Node: name, Action: action, Err: ErrUnknownAction}
	}
	return a(control.NewRequest(http.MethodGet, []string{name, "set", action}, params))
}

// RegisterControls registers "<name>/get" and "<name>/set/<action>" for
// every node with web enabled.
func (r *Registry) RegisterControls(m *control.Mux) error {
	for _, n := range r.nodes {
		if !n.core().desc.WebEnabled() {
			continue
		}
		n := n
		if err := m.Register([]string{n.Name(), "get"}, func(req *control.Request) error {
			req.SendJSON(n.State())
			return nil
		}); err != nil {
			return err
		}
		for name, a := range actionsOf(n) {
			if err := m.Register([]string{n.Name(), "set", name}, control.Handler(a)); err != nil {
				return err
			}
		}
	}
	return nil
}
