// Package api 暴露 webhook 入口与健康检查。
//
// 每个 webhook 请求独立处理：校验共享密钥、解析事件、生成任务描述、驱动
// Agent 运行，最后写入审计记录并返回结果。调用方只会看到 401、400、
// 200 ignored、200 processed 或 500 之一。
package api
