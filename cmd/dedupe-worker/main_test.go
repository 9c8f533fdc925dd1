package main

import (
	"context"
	"testing"

	"github.com/spf13/viper"

	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/kvstore"
)

func TestConfigFromViperAppliesFlagDefaults(t *testing.T) {
	root := newRootCmd()
	v := viper.New()
	_ = v.BindPFlags(root.PersistentFlags())

	cfg := configFromViper(v)
	want := dedupe.Defaults()
	if cfg.EdgeTolerance != want.EdgeTolerance || cfg.InsideTolerance != want.InsideTolerance {
		t.Fatalf("expected tolerances to match defaults, got %+v", cfg)
	}
	if cfg.KeyPrefix != want.KeyPrefix {
		t.Fatalf("expected key prefix %q, got %q", want.KeyPrefix, cfg.KeyPrefix)
	}
}

func TestDumpCardReportsUnownedCard(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	cfg := dedupe.Defaults()

	out, err := dumpCard(ctx, store, cfg, 42)
	if err != nil {
		t.Fatal(err)
	}
	if out.Owned {
		t.Fatalf("expected an unprocessed card to report owned=false, got %+v", out)
	}
}

func TestDumpCardReportsSingletonMembership(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	cfg := dedupe.Defaults()

	c, err := uowContextForTest(ctx, store, cfg)
	if err != nil {
		t.Fatal(err)
	}
	c.SubBuckets.New(7)
	if _, err := c.Engine.AddCard(ctx, 7, 7, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	out, err := dumpCard(ctx, store, cfg, 7)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Owned || out.SubBucketKey != 7 || len(out.CardIDs) != 1 {
		t.Fatalf("unexpected dump output: %+v", out)
	}
}
