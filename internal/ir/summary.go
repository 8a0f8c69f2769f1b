package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"microd/pkg/types"
)

// Summary renders the graph's structure (names, dtypes, shapes, operator
// kinds and wiring) as a canonical text listing. The rendering is total and
// deterministic: the same graph always yields the same bytes, and
// ParseSummary(Summary()) reproduces a graph with an identical Summary.
// Weight payloads are deliberately excluded; this is the structural identity
// used for artifact cache keys and host-side tooling.
func (g *Graph) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "graph %s\n", strconv.Quote(g.name))
	for _, name := range g.inputs {
		fmt.Fprintf(&sb, "input %s\n", strconv.Quote(name))
	}
	for _, name := range g.outputs {
		fmt.Fprintf(&sb, "output %s\n", strconv.Quote(name))
	}
	names := make([]string, 0, len(g.tensors))
	for name := range g.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := g.tensors[name]
		fmt.Fprintf(&sb, "tensor %s %s %s", strconv.Quote(name), t.DType, formatShape(t.Shape))
		if t.IsConst() {
			sb.WriteString(" const")
		}
		sb.WriteByte('\n')
	}
	for _, n := range g.nodes {
		fmt.Fprintf(&sb, "op %s", n.Kind)
		sb.WriteString(" in")
		for _, in := range n.Inputs {
			sb.WriteByte(' ')
			sb.WriteString(strconv.Quote(in))
		}
		sb.WriteString(" out")
		for _, out := range n.Outputs {
			sb.WriteByte(' ')
			sb.WriteString(strconv.Quote(out))
		}
		keys := make([]string, 0, len(n.Attrs))
		for k := range n.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " attr %s %s", k, strconv.Quote(n.Attrs[k]))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Fingerprint keys the artifact cache: a hash of the structural summary and
// the target identifier. Two graphs with equal fingerprints generate
// byte-identical artifacts for that target.
func (g *Graph) Fingerprint(target string) string {
	h := sha256.New()
	h.Write([]byte(g.Summary()))
	h.Write([]byte{0})
	h.Write([]byte(target))
	return hex.EncodeToString(h.Sum(nil))
}

// ParseSummary reads a structural listing back into a Graph. Constants come
// back weightless (empty payload, still marked const): the summary carries
// structure, not data.
func ParseSummary(text string) (*Graph, error) {
	g := &Graph{tensors: make(map[string]TensorDesc)}
	for ln, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		toks, err := summaryTokens(line)
		if err != nil {
			return nil, fmt.Errorf("summary line %d: %w", ln+1, err)
		}
		if err := g.applySummaryLine(toks); err != nil {
			return nil, fmt.Errorf("summary line %d: %w", ln+1, err)
		}
	}
	return g, nil
}

func (g *Graph) applySummaryLine(toks []summaryToken) error {
	if len(toks) < 2 {
		return fmt.Errorf("short line %v", toks)
	}
	switch toks[0].val {
	case "graph":
		g.name = toks[1].val
	case "input":
		g.inputs = append(g.inputs, toks[1].val)
	case "output":
		g.outputs = append(g.outputs, toks[1].val)
	case "tensor":
		if len(toks) < 4 {
			return fmt.Errorf("short tensor line %v", toks)
		}
		dt, err := types.ParseDType(toks[2].val)
		if err != nil {
			return err
		}
		shape, err := parseShape(toks[3].val)
		if err != nil {
			return err
		}
		t := TensorDesc{Name: toks[1].val, DType: dt, Shape: shape}
		if len(toks) == 5 && toks[4].val == "const" {
			t.Weights = []byte{}
		}
		g.tensors[toks[1].val] = t
	case "op":
		kind, err := types.ParseOpKind(toks[1].val)
		if err != nil {
			return err
		}
		n := Node{Kind: kind}
		i := 2
		for i < len(toks) {
			if toks[i].quoted {
				return fmt.Errorf("unexpected name %q", toks[i].val)
			}
			switch toks[i].val {
			case "in":
				for i++; i < len(toks) && toks[i].quoted; i++ {
					n.Inputs = append(n.Inputs, toks[i].val)
				}
			case "out":
				for i++; i < len(toks) && toks[i].quoted; i++ {
					n.Outputs = append(n.Outputs, toks[i].val)
				}
			case "attr":
				if i+2 >= len(toks) {
					return fmt.Errorf("short attr in %v", toks)
				}
				if n.Attrs == nil {
					n.Attrs = make(map[string]string)
				}
				n.Attrs[toks[i+1].val] = toks[i+2].val
				i += 3
			default:
				return fmt.Errorf("unexpected token %q", toks[i].val)
			}
		}
		g.nodes = append(g.nodes, n)
	default:
		return fmt.Errorf("unknown directive %q", toks[0].val)
	}
	return nil
}

// summaryToken is one token of a summary line. Names are always written
// quoted, so the quoted flag cleanly separates them from structural keywords
// even when a tensor is literally named "in" or "out".
type summaryToken struct {
	val    string
	quoted bool
}

func summaryTokens(line string) ([]summaryToken, error) {
	var out []summaryToken
	s := line
	for {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			return out, nil
		}
		if s[0] == '"' {
			q, err := strconv.QuotedPrefix(s)
			if err != nil {
				return nil, fmt.Errorf("bad quoted token at %q", s)
			}
			u, err := strconv.Unquote(q)
			if err != nil {
				return nil, err
			}
			out = append(out, summaryToken{val: u, quoted: true})
			s = s[len(q):]
			continue
		}
		end := strings.IndexByte(s, ' ')
		if end < 0 {
			end = len(s)
		}
		out = append(out, summaryToken{val: s[:end]})
		s = s[end:]
	}
}

func formatShape(shape []int) string {
	if len(shape) == 0 {
		return "-"
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, "x")
}

func parseShape(s string) ([]int, error) {
	if s == "-" {
		return nil, nil
	}
	parts := strings.Split(s, "x")
	out := make([]int, len(parts))
	for i, p := range parts {
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad shape %q: %w", s, err)
		}
		out[i] = d
	}
	return out, nil
}
