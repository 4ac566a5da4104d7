/*
包 batch 提供有界批量队列与定时 flush 调度能力，将零散的单条写入
聚合为批次统一交给下游处理，降低网络往返开销并提供显式背压。

# 核心接口

  - Handler[T]：批量处理回调，接收一个按提交顺序排列的批次。
  - Queue[T]：有界 FIFO 队列 + 后台定时调度，按大小阈值或时间阈值触发 flush。
  - Config：配置批大小、flush 周期、队列容量与各类有界等待时间。

# 主要能力

  - 自动聚合：队列达到 BatchSize 或 BatchTimeout 到期即成批下发。
  - 背压：容量满时 Add 有界等待后显式失败，绝不无界增长。
  - 旁路模式：EnableBatch 关闭时每次 Add 立即同步处理单项批次。
  - 安全停机：Stop 在返回前把所有剩余条目排空给 Handler。

# 使用方式

	q := batch.NewQueue(batch.DefaultConfig(), func(ctx context.Context, docs []store.Document) error {
	    // 调用下游批量写入接口
	    return nil
	}, logger)
	defer q.Stop()

	ok := q.Add(ctx, doc)
*/
package batch
