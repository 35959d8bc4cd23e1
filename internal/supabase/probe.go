package supabase

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/printshop-ops/rlsctl/internal/logger"
	"github.com/supabase-community/supabase-go"
)

// KeyResult is what one API key could see of one table.
type KeyResult struct {
	Key   string `json:"key"`
	Role  string `json:"role"`
	Rows  int64  `json:"rows"`
	Error string `json:"error,omitempty"`
}

// TableProbe collects the visibility of one table per key.
type TableProbe struct {
	Table   string      `json:"table"`
	Results []KeyResult `json:"results"`
}

// ProbeKey is a named API key.
type ProbeKey struct {
	Name string
	Key  string
	Role string
}

// Prober counts visible rows through the REST API.
type Prober struct {
	projectURL string
	keys       []ProbeKey
}

// NewProber creates a prober. Keys are tried in order for every table.
func NewProber(projectURL string, keys ...ProbeKey) *Prober {
	return &Prober{projectURL: projectURL, keys: keys}
}

// Probe returns one TableProbe per table. A table written as schema.name is
// requested through that schema's profile; a bare name is in public. Request
// failures are recorded on the result, not returned, so one unexposed table
// does not hide the rest.
func (p *Prober) Probe(ctx context.Context, tables []string) ([]TableProbe, error) {
	clients := make(map[string]*supabase.Client)
	client := func(i int, schema string) (*supabase.Client, error) {
		id := strconv.Itoa(i) + "/" + schema
		if c, ok := clients[id]; ok {
			return c, nil
		}
		c, err := supabase.NewClient(p.projectURL, p.keys[i].Key, &supabase.ClientOptions{Schema: schema})
		if err != nil {
			return nil, fmt.Errorf("failed to create client for %s key: %w", p.keys[i].Name, err)
		}
		clients[id] = c
		return c, nil
	}

	log := logger.Get()
	probes := make([]TableProbe, 0, len(tables))
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return probes, err
		}
		schema, name := SplitTable(table)
		tp := TableProbe{Table: table}
		for i, k := range p.keys {
			c, err := client(i, schema)
			if err != nil {
				return nil, err
			}
			res := KeyResult{Key: k.Name, Role: k.Role}
			_, count, err := c.From(name).Select("*", "exact", true).Execute()
			if err != nil {
				res.Error = err.Error()
				log.Debug("probe request failed", "schema", schema, "table", name, "key", k.Name, "error", err)
			} else {
				res.Rows = count
			}
			tp.Results = append(tp.Results, res)
		}
		probes = append(probes, tp)
	}
	return probes, nil
}

// SplitTable splits "schema.table". A bare name is in public.
func SplitTable(table string) (schema, name string) {
	if i := strings.IndexByte(table, '.'); i > 0 && i < len(table)-1 {
		return table[:i], table[i+1:]
	}
	return "public", table
}
