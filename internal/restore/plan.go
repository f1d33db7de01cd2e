package restore

import "tabsnap/internal/registry"

// Plan returns the tables to restore: those both requested and present, in
// the registry's restore order. An empty request means every present table.
// Tables the registry does not know are dropped.
func Plan(requested, present []string, reg *registry.Registry) []string {
	inDoc := make(map[string]bool, len(present))
	for _, name := range present {
		inDoc[name] = true
	}

	want := inDoc
	if len(requested) > 0 {
		want = make(map[string]bool, len(requested))
		for _, name := range requested {
			want[name] = true
		}
	}

	var order []string
	for _, name := range reg.RestoreOrder() {
		if want[name] && inDoc[name] {
			order = append(order, name)
		}
	}
	return order
}
