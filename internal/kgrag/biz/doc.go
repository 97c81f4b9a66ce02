// Package biz 提供知识图谱增强混合检索的业务逻辑层。
//
// 该包将检索流程拆分为以下组件：
//   - EntityExtractor: 从查询中提取候选实体名
//   - VectorSearcher: 在当前索引快照上执行向量检索
//   - GraphSearcher: 带超时与熔断的图谱查询，失败时降级为空结果
//   - HybridRetriever: 合并向量结果与图谱多样性结果并排序
//   - AnswerAssembler: 拼装引用片段并调用答案生成器
//   - Service: 组合以上组件，提供 ProcessQuery 与 Stats
//   - Ingester / ArtifactWatcher: 图谱导入与索引文件热加载
package biz
