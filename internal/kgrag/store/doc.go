// Package store 提供 kgrag 服务的数据存储层。
//
// 包含分块元数据、向量索引（FAISS 扁平文件 / Milvus）、
// 知识图谱（Neo4j / 内存实现）以及查询历史（SQLite）。
package store
