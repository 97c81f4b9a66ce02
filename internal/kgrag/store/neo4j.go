package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kart-io/kgrag/internal/model"
	neo4jclient "github.com/kart-io/kgrag/pkg/component/neo4j"
	"github.com/kart-io/kgrag/pkg/utils/json"
)

// 检索语句。匹配词在调用前已转为小写。
const (
	findPapersByEntitiesCypher = `
MATCH path = (p:Paper)-[*1..2]-(e)
WHERE p.paper_id IS NOT NULL AND NOT e:Paper AND e.name IS NOT NULL
  AND any(term IN $terms WHERE toLower(toString(e.name)) CONTAINS term
                            OR toLower(toString(coalesce(p.title, ''))) CONTAINS term)
WITH p,
     [n IN nodes(path) WHERE NOT n:Paper AND n.name IS NOT NULL | toString(n.name)] AS names,
     [r IN relationships(path) | type(r)] AS types
UNWIND names AS name
WITH p, collect(DISTINCT name) AS entities, collect(types) AS type_lists
RETURN toString(p.paper_id) AS paper_id, toString(coalesce(p.title, '')) AS title, entities, type_lists
ORDER BY size(entities) DESC, paper_id ASC
LIMIT $limit`

	findRelatedPapersCypher = `
MATCH path = (p:Paper)-[*1..2]-(q:Paper)
WHERE toString(p.paper_id) IN $paper_ids AND q.paper_id IS NOT NULL
  AND NOT toString(q.paper_id) IN $paper_ids
WITH q,
     [n IN nodes(path) WHERE NOT n:Paper AND n.name IS NOT NULL | toString(n.name)] AS names,
     [r IN relationships(path) | type(r)] AS types
UNWIND names AS name
WITH q, collect(DISTINCT name) AS shared, collect(types) AS type_lists
RETURN toString(q.paper_id) AS paper_id, toString(coalesce(q.title, '')) AS title, shared, type_lists
ORDER BY size(shared) DESC, paper_id ASC
LIMIT $limit`

	// 可变长度路径的跳数无法参数化，调用方保证 hops 在 [1,4] 内。
	subgraphCypherTemplate = `
MATCH p = (s {name: $name})-[*1..%d]-(t)
WITH collect(DISTINCT p) AS paths
UNWIND paths AS path
UNWIND nodes(path) AS n
WITH paths, collect(DISTINCT n) AS ns
UNWIND paths AS path
UNWIND relationships(path) AS r
WITH ns, collect(DISTINCT r) AS rs
RETURN [n IN ns | {id: elementId(n), name: n.name, labels: labels(n), props: properties(n)}][0..$limit] AS nodes,
       [r IN rs | {id: elementId(r), source: elementId(startNode(r)), target: elementId(endNode(r)),
                   type: type(r), props: properties(r)}][0..$limit] AS rels`

	searchNodesCypher = `
MATCH (n)
WHERE toLower(toString(coalesce(n.name, ''))) CONTAINS $keyword
   OR toLower(toString(coalesce(n.description, ''))) CONTAINS $keyword
   OR toLower(toString(coalesce(n.title, ''))) CONTAINS $keyword
RETURN DISTINCT toString(coalesce(n.name, n.paper_id, n.id)) AS name, labels(n) AS labels,
       toString(coalesce(n.description, '')) AS description, toString(coalesce(n.title, '')) AS title
ORDER BY name
LIMIT $limit`
)

// 写入语句模板。标签与关系类型在插值前均经过 Valid 校验。
const (
	upsertNodesTemplate = `
UNWIND $rows AS row
MERGE (n:%s {%s: row.key})
SET n += row.props
SET n.sources = CASE WHEN row.paper_id IN coalesce(n.sources, []) THEN n.sources
                     ELSE coalesce(n.sources, []) + row.paper_id END`

	upsertRelationsTemplate = `
UNWIND $rows AS r
MATCH (a:%s {%s: r.from_key})
MATCH (b:%s {%s: r.to_key})
MERGE (a)-[rel:%s]->(b)
SET rel.papers = CASE WHEN r.paper_id IN coalesce(rel.papers, []) THEN rel.papers
                      ELSE coalesce(rel.papers, []) + r.paper_id END
SET rel += r.props`

	upsertPaperCypher = `
MERGE (p:Paper {paper_id: $paper_id})
SET p.title = coalesce($title, p.title)`

	linkMentionsTemplate = `
MATCH (p:Paper {paper_id: $paper_id})
UNWIND $keys AS key
MATCH (e:%s {%s: key})
WHERE e <> p
MERGE (p)-[:MENTIONS]->(e)`

	constraintTemplate = "CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE"
)

// Neo4jGraph 基于 Neo4j 的知识图谱存储，每次调用使用独立会话。
type Neo4jGraph struct {
	client *neo4jclient.Client
}

var _ GraphStore = (*Neo4jGraph)(nil)

// NewNeo4jGraph 创建 Neo4j 图存储。
func NewNeo4jGraph(client *neo4jclient.Client) *Neo4jGraph {
	return &Neo4jGraph{client: client}
}

func (g *Neo4jGraph) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := g.client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}

// FindPapersByEntities 实现实体驱动的论文发现。
func (g *Neo4jGraph) FindPapersByEntities(ctx context.Context, names []string) ([]model.PaperHit, error) {
	terms := normalizeTerms(names)
	if len(terms) == 0 {
		return nil, nil
	}

	records, err := g.read(ctx, findPapersByEntitiesCypher, map[string]any{
		"terms": terms,
		"limit": int64(MaxPaperHits),
	})
	if err != nil {
		return nil, fmt.Errorf("find papers by entities: %w", err)
	}

	hits := make([]model.PaperHit, 0, len(records))
	for _, rec := range records {
		hits = append(hits, model.PaperHit{
			PaperID:           recordString(rec, "paper_id"),
			Title:             recordString(rec, "title"),
			MatchedEntities:   recordStrings(rec, "entities"),
			RelationshipTypes: flattenTypeLists(rec, "type_lists"),
		})
	}
	return sortPaperHits(hits, MaxPaperHits), nil
}

// FindRelatedPapers 实现相关论文扩展。
func (g *Neo4jGraph) FindRelatedPapers(ctx context.Context, paperIDs []string) ([]model.RelatedPaper, error) {
	ids := uniqueStrings(paperIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	records, err := g.read(ctx, findRelatedPapersCypher, map[string]any{
		"paper_ids": ids,
		"limit":     int64(MaxRelatedPapers),
	})
	if err != nil {
		return nil, fmt.Errorf("find related papers: %w", err)
	}

	papers := make([]model.RelatedPaper, 0, len(records))
	for _, rec := range records {
		papers = append(papers, model.RelatedPaper{
			PaperID:           recordString(rec, "paper_id"),
			Title:             recordString(rec, "title"),
			SharedEntities:    recordStrings(rec, "shared"),
			RelationshipTypes: flattenTypeLists(rec, "type_lists"),
		})
	}
	return sortRelatedPapers(papers, MaxRelatedPapers), nil
}

// Subgraph 返回 cytoscape 格式的邻域子图。
func (g *Neo4jGraph) Subgraph(ctx context.Context, name string, hops int) (*model.Subgraph, error) {
	hops = ClampHops(hops)
	records, err := g.read(ctx, fmt.Sprintf(subgraphCypherTemplate, hops), map[string]any{
		"name":  name,
		"limit": int64(MaxSubgraphItems),
	})
	if err != nil {
		return nil, fmt.Errorf("subgraph: %w", err)
	}

	sg := &model.Subgraph{Elements: model.Elements{Nodes: []model.Element{}, Edges: []model.Element{}}}
	if len(records) == 0 {
		return sg, nil
	}
	rec := records[0]

	rawNodes, _ := rec.Get("nodes")
	for _, item := range asSlice(rawNodes) {
		n, ok := item.(map[string]any)
		if !ok {
			continue
		}
		data := map[string]any{}
		for k, v := range asMap(n["props"]) {
			data[k] = v
		}
		data["id"] = n["id"]
		data["label"] = n["name"]
		if labels := asSlice(n["labels"]); len(labels) > 0 {
			data["type"] = labels[0]
		} else {
			data["type"] = nil
		}
		sg.Elements.Nodes = append(sg.Elements.Nodes, model.Element{Data: data})
	}

	rawRels, _ := rec.Get("rels")
	for _, item := range asSlice(rawRels) {
		r, ok := item.(map[string]any)
		if !ok {
			continue
		}
		data := map[string]any{}
		for k, v := range asMap(r["props"]) {
			data[k] = v
		}
		data["id"] = r["id"]
		data["source"] = r["source"]
		data["target"] = r["target"]
		data["type"] = r["type"]
		sg.Elements.Edges = append(sg.Elements.Edges, model.Element{Data: data})
	}
	return sg, nil
}

// SearchNodes 按 name、description、title 的小写包含关系搜索节点。
func (g *Neo4jGraph) SearchNodes(ctx context.Context, keyword string, limit int) ([]model.NodeMatch, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchSize
	}

	records, err := g.read(ctx, searchNodesCypher, map[string]any{
		"keyword": keyword,
		"limit":   int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("search nodes: %w", err)
	}

	matches := make([]model.NodeMatch, 0, len(records))
	for _, rec := range records {
		matches = append(matches, model.NodeMatch{
			Name:        recordString(rec, "name"),
			Labels:      recordStrings(rec, "labels"),
			Description: recordString(rec, "description"),
			Title:       recordString(rec, "title"),
		})
	}
	return matches, nil
}

type statement struct {
	cypher string
	params map[string]any
}

// buildUpsertStatements 将文档转换为按标签、按关系分组的写入语句。
func buildUpsertStatements(doc *model.KGDocument) []statement {
	var stmts []statement

	var title any
	if doc.Title != "" {
		title = doc.Title
	}
	stmts = append(stmts, statement{upsertPaperCypher, map[string]any{
		"paper_id": doc.PaperID,
		"title":    title,
	}})

	byLabel := make(map[model.Label][]map[string]any)
	keysByLabel := make(map[model.Label][]string)
	for _, e := range doc.Entities {
		byLabel[e.Type] = append(byLabel[e.Type], map[string]any{
			"key":      e.Name,
			"props":    sanitizeProps(e.Props),
			"paper_id": doc.PaperID,
		})
		keysByLabel[e.Type] = append(keysByLabel[e.Type], e.Name)
	}
	for _, label := range sortedLabels(byLabel) {
		stmts = append(stmts, statement{
			fmt.Sprintf(upsertNodesTemplate, label, label.KeyProperty()),
			map[string]any{"rows": byLabel[label]},
		})
	}

	type relKey struct {
		from, to model.Label
		typ      model.RelType
	}
	groups := make(map[relKey][]map[string]any)
	var order []relKey
	for _, r := range doc.Relations {
		k := relKey{r.FromType, r.ToType, r.Type}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], map[string]any{
			"from_key": r.FromName,
			"to_key":   r.ToName,
			"props":    sanitizeProps(r.Props),
			"paper_id": doc.PaperID,
		})
	}
	for _, k := range order {
		stmts = append(stmts, statement{
			fmt.Sprintf(upsertRelationsTemplate,
				k.from, k.from.KeyProperty(), k.to, k.to.KeyProperty(), k.typ),
			map[string]any{"rows": groups[k]},
		})
	}

	for _, label := range sortedLabels(byLabel) {
		stmts = append(stmts, statement{
			fmt.Sprintf(linkMentionsTemplate, label, label.KeyProperty()),
			map[string]any{"paper_id": doc.PaperID, "keys": uniqueStrings(keysByLabel[label])},
		})
	}
	return stmts
}

// UpsertDocument 在单个写事务中写入文档。
func (g *Neo4jGraph) UpsertDocument(ctx context.Context, doc *model.KGDocument) error {
	if err := ValidateDocument(doc); err != nil {
		return err
	}
	stmts := buildUpsertStatements(doc)

	session := g.client.WriteSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			result, err := tx.Run(ctx, st.cypher, st.params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.PaperID, err)
	}
	return nil
}

// EnsureConstraints 为每个标签的键属性创建唯一约束。
func (g *Neo4jGraph) EnsureConstraints(ctx context.Context) error {
	session := g.client.WriteSession(ctx)
	defer session.Close(ctx)

	for _, label := range model.Labels {
		cypher := fmt.Sprintf(constraintTemplate, label, label.KeyProperty())
		result, err := session.Run(ctx, cypher, nil)
		if err != nil {
			return fmt.Errorf("create constraint for %s: %w", label, err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("create constraint for %s: %w", label, err)
		}
	}
	return nil
}

// Ping 检查连接。
func (g *Neo4jGraph) Ping(ctx context.Context) error {
	return g.client.Ping(ctx)
}

// Close 关闭驱动。
func (g *Neo4jGraph) Close(ctx context.Context) error {
	return g.client.Close(ctx)
}

func sortedLabels[T any](m map[model.Label]T) []model.Label {
	labels := make([]model.Label, 0, len(m))
	for l := range m {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

// sanitizeProps 将 Neo4j 不支持的嵌套值编码为 JSON 字符串。
func sanitizeProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case nil:
			continue
		case string, bool, int, int32, int64, float32, float64:
			out[k] = val
		case []any:
			if scalarList(val) {
				out[k] = val
				continue
			}
			out[k] = encodeProp(val)
		default:
			out[k] = encodeProp(val)
		}
	}
	return out
}

func scalarList(list []any) bool {
	for _, v := range list {
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64:
		default:
			return false
		}
	}
	return true
}

func encodeProp(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func recordStrings(rec *neo4j.Record, key string) []string {
	v, _ := rec.Get(key)
	items := asSlice(v)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// flattenTypeLists 展开路径关系类型列表并保序去重。
func flattenTypeLists(rec *neo4j.Record, key string) []string {
	v, _ := rec.Get(key)
	var flat []string
	for _, list := range asSlice(v) {
		for _, t := range asSlice(list) {
			if s, ok := t.(string); ok {
				flat = append(flat, s)
			}
		}
	}
	return uniqueStrings(flat)
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
