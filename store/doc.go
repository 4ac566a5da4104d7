// Package store 提供面向限流向量库的弹性批量客户端。
//
// 包内分三层：
//   - Service：下游向量库的同步操作抽象，TurbopufferService 是
//     默认实现（typed v2 REST 协议）。
//   - Client：组合根。把批量队列、重试执行器、熔断器和可选的
//     限流器 / 死信队列装配成统一的写入与查询入口。
//   - Metrics：进程内计数器，可选镜像到 Prometheus。
//
// 调用方通常只持有 *Client：
//
//	svc, _ := store.NewTurbopufferService(store.TurbopufferConfig{
//		APIKey:    apiKey,
//		Namespace: "prod-docs",
//	}, logger)
//	client := store.NewClient(svc, store.DefaultClientConfig(), logger)
//	defer client.Close()
//
//	_ = client.AddDocument(ctx, store.Document{Content: "hello", Embedding: vec})
package store
