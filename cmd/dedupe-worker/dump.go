package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/graph"
	"github.com/dreamware/carddedupe/internal/kvstore"
	"github.com/dreamware/carddedupe/internal/uow"
)

// noopMatchSource satisfies graph.MatchSource for dump, which never
// evicts a card and so never needs to re-derive its matches.
type noopMatchSource struct{}

func (noopMatchSource) Matches(context.Context, dedupe.CardID) ([]dedupe.CardID, error) {
	return nil, nil
}

// noopQueue satisfies graph.Queue for dump's read-only Context.
type noopQueue struct{}

func (noopQueue) Enqueue(context.Context, dedupe.CardID) error { return nil }

type dumpOutput struct {
	CardID       dedupe.CardID       `json:"card_id"`
	SubBucketKey dedupe.SubBucketKey `json:"subbucket_key,omitempty"`
	BucketSetKey dedupe.BucketSetKey `json:"bucketset_key,omitempty"`
	CardIDs      []dedupe.CardID     `json:"card_ids,omitempty"`
	Owned        bool                `json:"owned"`
}

// newDumpCmd prints the SubBucket/BucketSet a card currently belongs to,
// for operator debugging (SPEC_FULL.md supplemented feature: a "dump"
// subcommand exposing cluster state without mutating it).
func newDumpCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <card-id>",
		Short: "Print the SubBucket/BucketSet a card currently belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid card id %q: %w", args[0], err)
			}
			id := dedupe.CardID(n)
			cfg := configFromViper(v)

			rdb := redis.NewClient(&redis.Options{Addr: v.GetString("redis-addr")})
			defer rdb.Close()
			store := kvstore.NewRedisStore(rdb)

			out, err := dumpCard(cmd.Context(), store, cfg, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

// uowContextForTest opens a read/write Context the same way dumpCard
// does, exposed for this package's tests to seed fixture state.
func uowContextForTest(ctx context.Context, store kvstore.Store, cfg dedupe.Config) (*uow.Context, error) {
	log := newLogger()
	return uow.New(ctx, store, cfg.KeyPrefix, noopMatchSource{}, noopQueue{}, log)
}

func dumpCard(ctx context.Context, store kvstore.Store, cfg dedupe.Config, id dedupe.CardID) (*dumpOutput, error) {
	log := newLogger()
	defer log.Sync()

	c, err := uow.New(ctx, store, cfg.KeyPrefix, noopMatchSource{}, noopQueue{}, log)
	if err != nil {
		return nil, err
	}
	defer c.Quit(ctx)

	sbKey, owned, err := c.CardSubBuckets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !owned {
		return &dumpOutput{CardID: id, Owned: false}, nil
	}

	sb, ok, err := c.SubBuckets.Get(ctx, sbKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &dumpOutput{CardID: id, Owned: false}, nil
	}

	bs, err := c.Engine.GetSet(ctx, sb.BucketSetKey)
	if err != nil {
		return nil, err
	}
	var cardIDs []dedupe.CardID
	for member := range bs.SubBucketKeys {
		msb, ok, err := c.SubBuckets.Get(ctx, member)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for cid := range msb.Cards {
			cardIDs = append(cardIDs, cid)
		}
	}

	return &dumpOutput{
		CardID:       id,
		SubBucketKey: sbKey,
		BucketSetKey: sb.BucketSetKey,
		CardIDs:      cardIDs,
		Owned:        true,
	}, nil
}

var _ graph.MatchSource = noopMatchSource{}
