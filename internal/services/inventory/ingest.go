package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/database"
	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/repository"
	"github.com/storeops/storeops/internal/util"
)

// Ingestor writes collector output into the fact tables and applies it to
// the ledger: new sales are consumed FIFO and deliveries become batches.
type Ingestor struct {
	db       *sql.DB
	ledger   *Ledger
	facts    *repository.FactRepository
	validate *validator.Validate
	clock    util.Clock
	log      logrus.FieldLogger
}

// NewIngestor creates an ingestor feeding the given ledger.
func NewIngestor(ledger *Ledger, clock util.Clock, log logrus.FieldLogger) *Ingestor {
	return &Ingestor{
		db:       ledger.db,
		ledger:   ledger,
		facts:    repository.NewFactRepository(ledger.db),
		validate: validator.New(),
		clock:    clock,
		log:      log,
	}
}

// DecodeBundle reads a JSON fact bundle.
func DecodeBundle(r io.Reader) (*FactBundle, error) {
	var b FactBundle
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decoding fact bundle: %w", err)
	}
	return &b, nil
}

// IngestBundle ingests one collection. Rows without a store id inherit the
// bundle's. Receipts go first so the day's sales can draw on them.
func (i *Ingestor) IngestBundle(ctx context.Context, b *FactBundle) (*IngestResult, error) {
	if err := i.validate.Struct(b); err != nil {
		return nil, fmt.Errorf("invalid fact bundle: %w", err)
	}
	for _, f := range b.Daily {
		if f != nil && f.StoreID == "" {
			f.StoreID = b.StoreID
		}
	}
	for _, f := range b.Receiving {
		if f != nil && f.StoreID == "" {
			f.StoreID = b.StoreID
		}
	}

	result, err := i.IngestReceiving(ctx, b.Receiving)
	if err != nil {
		return nil, err
	}
	daily, err := i.IngestDailyFacts(ctx, b.Daily)
	if err != nil {
		return nil, err
	}

	offset := len(b.Receiving)
	for _, re := range daily.Rejected {
		re.Index += offset
		result.Rejected = append(result.Rejected, re)
	}
	result.Accepted += daily.Accepted
	result.UnitsConsumed += daily.UnitsConsumed
	return result, nil
}

// IngestDailyFacts upserts daily facts. The sale increase over the stored
// figure for the same day is consumed from the ledger. Invalid rows are
// rejected individually.
func (i *Ingestor) IngestDailyFacts(ctx context.Context, facts []*models.DailyFact) (*IngestResult, error) {
	result := &IngestResult{}

	for idx, f := range facts {
		if f == nil {
			continue
		}
		if err := i.validate.Struct(f); err != nil {
			result.Rejected = append(result.Rejected, RowError{Index: idx, ItemCD: f.ItemCD, Err: err})
			continue
		}
		if f.CollectedAt.IsZero() {
			f.CollectedAt = i.clock.Now()
		}

		var consumed int
		err := database.WithTx(ctx, i.db, func(tx *sql.Tx) error {
			prevSale := 0
			prev, err := i.facts.GetDaily(ctx, tx, f.StoreID, f.ItemCD, f.SalesDate)
			switch {
			case err == nil:
				prevSale = prev.SaleQty
			case !errors.Is(err, repository.ErrNotFound):
				return err
			}

			if err := i.facts.UpsertDaily(ctx, tx, f); err != nil {
				return err
			}

			consumed, err = i.ledger.consume(ctx, tx, f.StoreID, f.ItemCD, f.SaleQty-prevSale)
			return err
		})
		if err != nil {
			i.log.WithFields(logrus.Fields{
				"store_id": f.StoreID,
				"item_cd":  f.ItemCD,
			}).WithError(err).Warn("daily fact rejected")
			result.Rejected = append(result.Rejected, RowError{Index: idx, ItemCD: f.ItemCD, Err: err})
			continue
		}

		result.Accepted++
		result.UnitsConsumed += consumed
	}

	i.logResult("daily facts ingested", result)
	return result, nil
}

type receiptKey struct {
	storeID       string
	itemCD        string
	receivingDate string
}

// IngestReceiving upserts receiving facts and opens a batch per store, item
// and receiving date. Slips of the same day are summed; a day that already
// has a batch is left as is.
func (i *Ingestor) IngestReceiving(ctx context.Context, facts []*models.ReceivingFact) (*IngestResult, error) {
	result := &IngestResult{}

	receipts := make(map[receiptKey]*CreateBatchInput)
	for idx, f := range facts {
		if f == nil {
			continue
		}
		if err := i.validate.Struct(f); err != nil {
			result.Rejected = append(result.Rejected, RowError{Index: idx, ItemCD: f.ItemCD, Err: err})
			continue
		}
		if f.CollectedAt.IsZero() {
			f.CollectedAt = i.clock.Now()
		}

		if _, err := i.facts.UpsertReceiving(ctx, nil, f); err != nil {
			result.Rejected = append(result.Rejected, RowError{Index: idx, ItemCD: f.ItemCD, Err: err})
			continue
		}
		result.Accepted++

		if f.ReceivingQty == 0 {
			continue
		}
		key := receiptKey{f.StoreID, f.ItemCD, f.ReceivingDate}
		in, ok := receipts[key]
		if !ok {
			received, err := util.ParseDateIn(f.ReceivingDate, i.ledger.loc)
			if err != nil {
				return nil, fmt.Errorf("parsing receiving date: %w", err)
			}
			in = &CreateBatchInput{
				StoreID:       f.StoreID,
				ItemCD:        f.ItemCD,
				ItemNM:        f.ItemNM,
				MidCD:         f.MidCD,
				DeliveryType:  f.DeliveryGrouping,
				ReceivingDate: received,
			}
			receipts[key] = in
		}
		in.Qty += f.ReceivingQty
	}

	keys := make([]receiptKey, 0, len(receipts))
	for k := range receipts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].storeID != keys[b].storeID {
			return keys[a].storeID < keys[b].storeID
		}
		if keys[a].itemCD != keys[b].itemCD {
			return keys[a].itemCD < keys[b].itemCD
		}
		return keys[a].receivingDate < keys[b].receivingDate
	})

	for _, k := range keys {
		_, created, err := i.ledger.CreateBatch(ctx, *receipts[k])
		if err != nil {
			return nil, fmt.Errorf("opening batch for %s: %w", k.itemCD, err)
		}
		if created {
			result.BatchesCreated++
		}
	}

	i.logResult("receiving facts ingested", result)
	return result, nil
}

func (i *Ingestor) logResult(msg string, result *IngestResult) {
	entry := i.log.WithFields(logrus.Fields{
		"accepted":        result.Accepted,
		"rejected":        len(result.Rejected),
		"batches_created": result.BatchesCreated,
		"units_consumed":  result.UnitsConsumed,
	})
	if len(result.Rejected) > 0 {
		entry.Warn(msg)
		return
	}
	entry.Info(msg)
}
