package pipeline

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// Registry maps (format label, version) to the FormatSpec that runs it.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]map[string]*FormatSpec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]map[string]*FormatSpec)}
}

// Register adds spec. Its stage graph is checked up front.
func (r *Registry) Register(spec *FormatSpec) error {
	if spec.Format.Label == "" || spec.Format.Version == "" {
		return domain.ErrValidation("format label and version are required")
	}
	if _, err := ResolveStageOrder(spec.Stages, spec.Inputs); err != nil {
		return err
	}

	label := strings.ToUpper(spec.Format.Label)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.specs[label] == nil {
		r.specs[label] = make(map[string]*FormatSpec)
	}
	if _, dup := r.specs[label][spec.Format.Version]; dup {
		return domain.ErrConflict("format %s already registered", spec.Format)
	}
	r.specs[label][spec.Format.Version] = spec
	return nil
}

// Get returns the FormatSpec of ref. An empty version selects the latest one.
func (r *Registry) Get(ref domain.FormatRef) (*FormatSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.specs[strings.ToUpper(ref.Label)]
	if len(versions) == 0 {
		return nil, domain.ErrNotFound("unknown format %q", ref.Label)
	}
	if ref.Version == "" {
		var latest string
		for v := range versions {
			if latest == "" || compareVersions(v, latest) > 0 {
				latest = v
			}
		}
		return versions[latest], nil
	}
	spec, ok := versions[ref.Version]
	if !ok {
		return nil, domain.ErrNotFound("format %s has no version %s", ref.Label, ref.Version)
	}
	return spec, nil
}

// Formats lists the registered formats ordered by label and version.
func (r *Registry) Formats() []domain.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Format
	for _, versions := range r.specs {
		for _, spec := range versions {
			out = append(out, spec.Format)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return compareVersions(out[i].Version, out[j].Version) < 0
	})
	return out
}

// compareVersions compares dotted numeric versions; non-numeric parts
// compare as strings.
func compareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var sa, sb string
		if i < len(pa) {
			sa = pa[i]
		}
		if i < len(pb) {
			sb = pb[i]
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		if sa == "" {
			na, errA = 0, nil
		}
		if sb == "" {
			nb, errB = 0, nil
		}
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		case sa != sb:
			return strings.Compare(sa, sb)
		}
	}
	return 0
}
