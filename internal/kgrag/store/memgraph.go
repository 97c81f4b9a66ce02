package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kart-io/kgrag/internal/model"
)

type memNode struct {
	id    string
	label model.Label
	props map[string]any
}

func (n *memNode) name() (string, bool) {
	s, ok := n.props["name"].(string)
	return s, ok && s != ""
}

type memEdge struct {
	id       string
	from, to string
	typ      model.RelType
	props    map[string]any
}

func (e *memEdge) other(id string) string {
	if e.from == id {
		return e.to
	}
	return e.from
}

// MemoryGraph 是进程内的图存储实现，遍历语义与 Neo4jGraph 一致，
// 用于测试和无图数据库的离线运行。
type MemoryGraph struct {
	mu        sync.RWMutex
	nodes     map[string]*memNode
	nodeOrder []string
	edges     map[string]*memEdge
	edgeOrder []string
	adj       map[string][]string
}

var _ GraphStore = (*MemoryGraph)(nil)

// NewMemoryGraph 创建空的内存图。
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		nodes: make(map[string]*memNode),
		edges: make(map[string]*memEdge),
		adj:   make(map[string][]string),
	}
}

func nodeID(label model.Label, key string) string {
	return string(label) + ":" + key
}

func (g *MemoryGraph) mergeNode(label model.Label, key string) *memNode {
	id := nodeID(label, key)
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &memNode{id: id, label: label, props: map[string]any{label.KeyProperty(): key}}
	g.nodes[id] = n
	g.nodeOrder = append(g.nodeOrder, id)
	return n
}

func (g *MemoryGraph) mergeEdge(from, to string, typ model.RelType) *memEdge {
	id := from + "-" + string(typ) + "->" + to
	if e, ok := g.edges[id]; ok {
		return e
	}
	e := &memEdge{id: id, from: from, to: to, typ: typ, props: map[string]any{}}
	g.edges[id] = e
	g.edgeOrder = append(g.edgeOrder, id)
	g.adj[from] = append(g.adj[from], id)
	if to != from {
		g.adj[to] = append(g.adj[to], id)
	}
	return e
}

// appendUnique 向字符串列表属性追加值，已存在时不变。
func appendUnique(props map[string]any, key, value string) {
	list, _ := props[key].([]string)
	for _, v := range list {
		if v == value {
			return
		}
	}
	props[key] = append(list, value)
}

// UpsertDocument 幂等写入文档。
func (g *MemoryGraph) UpsertDocument(_ context.Context, doc *model.KGDocument) error {
	if err := ValidateDocument(doc); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	paper := g.mergeNode(model.LabelPaper, doc.PaperID)
	if doc.Title != "" {
		paper.props["title"] = doc.Title
	}

	var mentioned []*memNode
	for _, e := range doc.Entities {
		n := g.mergeNode(e.Type, e.Name)
		for k, v := range e.Props {
			n.props[k] = v
		}
		appendUnique(n.props, "sources", doc.PaperID)
		mentioned = append(mentioned, n)
	}

	for _, r := range doc.Relations {
		a, okA := g.nodes[nodeID(r.FromType, r.FromName)]
		b, okB := g.nodes[nodeID(r.ToType, r.ToName)]
		if !okA || !okB {
			continue
		}
		e := g.mergeEdge(a.id, b.id, r.Type)
		appendUnique(e.props, "papers", doc.PaperID)
		for k, v := range r.Props {
			e.props[k] = v
		}
	}

	for _, n := range mentioned {
		if n.id == paper.id {
			continue
		}
		g.mergeEdge(paper.id, n.id, model.RelMentions)
	}
	return nil
}

// graphPath 是从起点出发长度为 1 或 2 的路径。
type graphPath struct {
	nodes []*memNode
	edges []*memEdge
}

// paths 枚举从 start 出发长度 1..2 的路径，同一路径内关系不重复。
func (g *MemoryGraph) paths(start *memNode) []graphPath {
	var out []graphPath
	for _, eid1 := range g.adj[start.id] {
		e1 := g.edges[eid1]
		mid := g.nodes[e1.other(start.id)]
		out = append(out, graphPath{nodes: []*memNode{start, mid}, edges: []*memEdge{e1}})
		for _, eid2 := range g.adj[mid.id] {
			if eid2 == eid1 {
				continue
			}
			e2 := g.edges[eid2]
			end := g.nodes[e2.other(mid.id)]
			out = append(out, graphPath{nodes: []*memNode{start, mid, end}, edges: []*memEdge{e1, e2}})
		}
	}
	return out
}

func (p graphPath) end() *memNode { return p.nodes[len(p.nodes)-1] }

func (p graphPath) entityNames() []string {
	var names []string
	for _, n := range p.nodes {
		if n.label == model.LabelPaper {
			continue
		}
		if name, ok := n.name(); ok {
			names = append(names, name)
		}
	}
	return names
}

func (p graphPath) relTypes() []string {
	types := make([]string, len(p.edges))
	for i, e := range p.edges {
		types[i] = string(e.typ)
	}
	return types
}

func paperID(n *memNode) (string, bool) {
	if n.label != model.LabelPaper {
		return "", false
	}
	s, ok := n.props["paper_id"].(string)
	return s, ok && s != ""
}

func containsAny(s string, terms []string) bool {
	s = strings.ToLower(s)
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// FindPapersByEntities 实现实体驱动的论文发现。
func (g *MemoryGraph) FindPapersByEntities(ctx context.Context, names []string) ([]model.PaperHit, error) {
	terms := normalizeTerms(names)
	if len(terms) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var hits []model.PaperHit
	for _, id := range g.nodeOrder {
		p := g.nodes[id]
		pid, ok := paperID(p)
		if !ok {
			continue
		}
		title, _ := p.props["title"].(string)
		titleMatch := containsAny(title, terms)

		var entities, types []string
		for _, path := range g.paths(p) {
			e := path.end()
			name, ok := e.name()
			if e.label == model.LabelPaper || !ok {
				continue
			}
			if !titleMatch && !containsAny(name, terms) {
				continue
			}
			entities = append(entities, path.entityNames()...)
			types = append(types, path.relTypes()...)
		}
		if len(entities) == 0 {
			continue
		}
		hits = append(hits, model.PaperHit{
			PaperID:           pid,
			Title:             title,
			MatchedEntities:   uniqueStrings(entities),
			RelationshipTypes: uniqueStrings(types),
		})
	}
	return sortPaperHits(hits, MaxPaperHits), nil
}

// FindRelatedPapers 实现相关论文扩展。
func (g *MemoryGraph) FindRelatedPapers(ctx context.Context, paperIDs []string) ([]model.RelatedPaper, error) {
	ids := uniqueStrings(paperIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	given := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		given[id] = struct{}{}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	type acc struct {
		title    string
		entities []string
		types    []string
	}
	found := make(map[string]*acc)
	var order []string

	for _, id := range g.nodeOrder {
		p := g.nodes[id]
		pid, ok := paperID(p)
		if !ok {
			continue
		}
		if _, ok := given[pid]; !ok {
			continue
		}
		for _, path := range g.paths(p) {
			qid, ok := paperID(path.end())
			if !ok {
				continue
			}
			if _, ok := given[qid]; ok {
				continue
			}
			names := path.entityNames()
			if len(names) == 0 {
				continue
			}
			a, ok := found[qid]
			if !ok {
				title, _ := path.end().props["title"].(string)
				a = &acc{title: title}
				found[qid] = a
				order = append(order, qid)
			}
			a.entities = append(a.entities, names...)
			a.types = append(a.types, path.relTypes()...)
		}
	}

	papers := make([]model.RelatedPaper, 0, len(order))
	for _, qid := range order {
		a := found[qid]
		papers = append(papers, model.RelatedPaper{
			PaperID:           qid,
			Title:             a.title,
			SharedEntities:    uniqueStrings(a.entities),
			RelationshipTypes: uniqueStrings(a.types),
		})
	}
	return sortRelatedPapers(papers, MaxRelatedPapers), nil
}

// Subgraph 以广度优先方式返回 hops 跳内的节点和关系。
func (g *MemoryGraph) Subgraph(_ context.Context, name string, hops int) (*model.Subgraph, error) {
	hops = ClampHops(hops)

	g.mu.RLock()
	defer g.mu.RUnlock()

	dist := make(map[string]int)
	var queue []string
	for _, id := range g.nodeOrder {
		if n, ok := g.nodes[id].name(); ok && n == name && len(g.adj[id]) > 0 {
			dist[id] = 0
			queue = append(queue, id)
		}
	}

	var nodeIDs []string
	nodeIDs = append(nodeIDs, queue...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if dist[cur] >= hops {
			continue
		}
		for _, eid := range g.adj[cur] {
			next := g.edges[eid].other(cur)
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = dist[cur] + 1
			nodeIDs = append(nodeIDs, next)
			queue = append(queue, next)
		}
	}

	sg := &model.Subgraph{Elements: model.Elements{Nodes: []model.Element{}, Edges: []model.Element{}}}
	for _, id := range nodeIDs {
		if len(sg.Elements.Nodes) >= MaxSubgraphItems {
			break
		}
		n := g.nodes[id]
		data := make(map[string]any, len(n.props)+3)
		for k, v := range n.props {
			data[k] = v
		}
		data["id"] = n.id
		data["label"] = n.props["name"]
		data["type"] = string(n.label)
		sg.Elements.Nodes = append(sg.Elements.Nodes, model.Element{Data: data})
	}

	for _, eid := range g.edgeOrder {
		if len(sg.Elements.Edges) >= MaxSubgraphItems {
			break
		}
		e := g.edges[eid]
		df, okF := dist[e.from]
		dt, okT := dist[e.to]
		if !okF || !okT || min(df, dt)+1 > hops {
			continue
		}
		data := make(map[string]any, len(e.props)+4)
		for k, v := range e.props {
			data[k] = v
		}
		data["id"] = e.id
		data["source"] = e.from
		data["target"] = e.to
		data["type"] = string(e.typ)
		sg.Elements.Edges = append(sg.Elements.Edges, model.Element{Data: data})
	}
	return sg, nil
}

// SearchNodes 按 name、description、title 的小写包含关系搜索节点。
func (g *MemoryGraph) SearchNodes(_ context.Context, keyword string, limit int) ([]model.NodeMatch, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchSize
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var matches []model.NodeMatch
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		name := fmt.Sprint(n.props[n.label.KeyProperty()])
		desc, _ := n.props["description"].(string)
		title, _ := n.props["title"].(string)
		if !containsAny(name, []string{keyword}) && !containsAny(desc, []string{keyword}) && !containsAny(title, []string{keyword}) {
			continue
		}
		matches = append(matches, model.NodeMatch{
			Name:        name,
			Labels:      []string{string(n.label)},
			Description: desc,
			Title:       title,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// EnsureConstraints 内存图的键唯一性由结构保证。
func (g *MemoryGraph) EnsureConstraints(context.Context) error { return nil }

// Ping 总是成功。
func (g *MemoryGraph) Ping(context.Context) error { return nil }

// Close 无需释放资源。
func (g *MemoryGraph) Close(context.Context) error { return nil }
