package clickhouse

import (
	"context"
	"errors"
	"sync"
	"time"

	"whalewatch/internal/config"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"gitlab.com/nevasik7/alerting/logger"
)

// One analytic row per analyzed whale transaction. Long-term sink only,
// never on the hot read path.
type WhaleEventRow struct {
	EventTime       time.Time
	TxHash          string
	Wallet          string
	PoolAddress     string
	Token           string
	Side            string
	AmountUSD       string // Decimal(20,6) as string
	BlockNumber     uint64
	Severity        string
	PriceImpact     float64
	LiquidityImpact float64
	VolumeSpike     float64
	AffectedPools   uint16
	CascadeDetected bool // converted to UInt8
}

type Writer struct {
	log logger.Logger

	conn ch.Conn
	cfg  config.ClickHouseConfig

	inCh      chan WhaleEventRow
	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWriter(log logger.Logger, conn ch.Conn, cfg config.ClickHouseConfig) *Writer {
	// sane defaults
	if cfg.Writer.BatchMaxRows <= 0 {
		cfg.Writer.BatchMaxRows = 1000
	}
	if cfg.Writer.BatchMaxInterval <= 0 {
		cfg.Writer.BatchMaxInterval = 200 * time.Millisecond
	}
	if cfg.Writer.MaxRetries < 0 {
		cfg.Writer.MaxRetries = 0
	}
	if cfg.Writer.RetryBackoff <= 0 {
		cfg.Writer.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer{
		log:      log,
		conn:     conn,
		cfg:      cfg,
		inCh:     make(chan WhaleEventRow, 4096), // whale rate is far below raw event rate
		closedCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

func (w *Writer) Enqueue(row WhaleEventRow) error {
	select {
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	default:
	}

	select {
	case w.inCh <- row:
		return nil
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	}
}

func (w *Writer) Health(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.closedCh)
		close(w.inCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]WhaleEventRow, 0, w.cfg.Writer.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.Writer.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := w.insertBatch(context.Background(), batch); err != nil {
			w.log.Errorf("Failed insert [%d] rows by batch to clickhouse, error=%v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-w.inCh:
			if !ok {
				flush()
				return
			}

			batch = append(batch, row)
			if len(batch) >= w.cfg.Writer.BatchMaxRows {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, rows []WhaleEventRow) error {
	if len(rows) == 0 {
		return nil
	}

	// repeat with exponential delay
	backoff := w.cfg.Writer.RetryBackoff

	var lastErr error

	for attempt := 0; attempt <= w.cfg.Writer.MaxRetries; attempt++ {
		batch, err := w.conn.PrepareBatch(ctx, `
			INSERT INTO whale_events (
				event_time,
				tx_hash,
				wallet,
				pool_address,
				token,
				side,
				amount_usd,
				block_number,
				severity,
				price_impact,
				liquidity_impact,
				volume_spike,
				affected_pools,
				cascade_detected
			)
		`)
		if err != nil {
			lastErr = err
			goto retry
		}

		for i := range rows {
			r := &rows[i]
			var cascade uint8
			if r.CascadeDetected {
				cascade = 1
			}

			if err = batch.Append(
				r.EventTime,
				r.TxHash,
				r.Wallet,
				r.PoolAddress,
				r.Token,
				r.Side,
				r.AmountUSD,
				r.BlockNumber,
				r.Severity,
				r.PriceImpact,
				r.LiquidityImpact,
				r.VolumeSpike,
				r.AffectedPools,
				cascade,
			); err != nil {
				lastErr = err
				_ = batch.Abort()
				goto retry
			}
		}

		if err = batch.Send(); err != nil {
			lastErr = err
			goto retry
		}
		// success
		return nil

	retry:
		if attempt == w.cfg.Writer.MaxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	return lastErr
}
