package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/usecase"
)

func batch(symbol string, n int) usecase.CandleBatch {
	end := time.Date(2024, 7, 1, 20, 0, 0, 0, time.UTC)
	cs := make([]models.Candle, n)
	for i := range cs {
		open := 1.1 + float64(i%7)*0.001
		cs[i] = models.Candle{
			Bucket: end.Add(-time.Duration(n-1-i) * time.Hour),
			Open:   open, High: open + 0.002, Low: open - 0.001, Close: open + 0.0005,
			Volume: 100,
		}
	}
	return usecase.CandleBatch{Symbol: symbol, Series: map[string][]models.Candle{"1h": cs}}
}

func TestReplayRunWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "batches.jsonl")
	snap := filepath.Join(dir, "memory.json")

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	require.NoError(t, enc.Encode(batch("EURUSD", 60)))
	bad := batch("GBPUSD", 60)
	bad.Series["1h"][3].Low = bad.Series["1h"][3].High + 1
	require.NoError(t, enc.Encode(bad))
	require.NoError(t, os.WriteFile(input, buf.Bytes(), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", "--input", input, "--snapshot", snap, "--save", "--format", "json"})
	require.NoError(t, rootCmd.Execute())

	var res struct {
		Reports []struct {
			Symbol string `json:"symbol"`
		} `json:"reports"`
		Memory models.MemoryStats `json:"memory"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Len(t, res.Reports, 1, "the malformed batch is skipped")
	assert.Equal(t, "EURUSD", res.Reports[0].Symbol)
	assert.FileExists(t, snap)
}
