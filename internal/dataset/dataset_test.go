package dataset

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/apresai/callsynth/internal/dialogue"
	"github.com/apresai/callsynth/internal/llm"
	"github.com/apresai/callsynth/internal/seed"
)

func sampleDataset() *Dataset {
	conv := func(id, officer, caller string) *dialogue.Conversation {
		return &dialogue.Conversation{
			ID:                id,
			Kind:              dialogue.KindScam,
			Locale:            "ms-my",
			SeedID:            "S1",
			Category:          "bank",
			NumTurns:          2,
			CharacterProfiles: map[dialogue.Role]string{dialogue.RoleCaller: caller, dialogue.RoleCallee: "victim_a"},
			Placeholders:      map[string]string{"00001": officer},
			Dialogue: []dialogue.Turn{
				{Index: 0, Role: dialogue.RoleCaller, Text: "This is " + officer},
				{Index: 1, Role: dialogue.RoleCallee, Text: "Hello"},
			},
			Attempts: 1,
		}
	}
	return &Dataset{
		Metadata: Metadata{RunID: "run1", Locale: "ms-my", Kind: dialogue.KindScam, Model: "haiku", Counts: Counts{Planned: 3, Accepted: 3}},
		Conversations: []*dialogue.Conversation{
			conv("ms-my-scam-000001", "Officer Tan", "scammer_a"),
			conv("ms-my-scam-000002", "Officer Tan", "scammer_b"),
			conv("ms-my-scam-000003", "Inspector Lim", "scammer_a"),
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "dataset.json")
	d := sampleDataset()

	require.NoError(t, Save(d, path))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "run1", loaded.Metadata.RunID)
	require.Len(t, loaded.Conversations, 3)
	assert.Equal(t, d.Conversations[2].Placeholders, loaded.Conversations[2].Placeholders)
}

func TestLoadBareArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"conversation_id":"c1","dialogue":[{"sent_id":0,"role":"caller","text":"hi"}]}]`), 0644))

	d, err := Load(path)
	require.NoError(t, err)
	require.Len(t, d.Conversations, 1)
	assert.Equal(t, "c1", d.Conversations[0].ID)
}

func TestFailureFor(t *testing.T) {
	u := dialogue.Unit{ConversationID: "c9", Seed: seed.Seed{ID: "S9"}}

	f := FailureFor(u, &dialogue.GenerationFailure{ConversationID: "c9", Attempts: 3, Reason: "llm_timeout", Err: errors.New("deadline")})
	assert.Equal(t, "S9", f.SeedID)
	assert.Equal(t, "llm_timeout", f.Reason)
	assert.Equal(t, 3, f.Attempts)
	assert.Equal(t, "conversation c9 rejected after 3 attempts (llm_timeout): deadline", f.Error)

	f = FailureFor(u, errors.New("boom"))
	assert.Equal(t, "error", f.Reason)
	assert.Equal(t, "boom", f.Error)
}

func TestNewRunID(t *testing.T) {
	id, err := NewRunID()
	require.NoError(t, err)
	_, err = ulid.Parse(id)
	assert.NoError(t, err)
}

func TestEstimateCost(t *testing.T) {
	usage := llm.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 4.80, EstimateCost("claude-haiku-4-5-20251001", usage), 1e-9)
	assert.InDelta(t, 18.0, EstimateCost("us.anthropic.claude-sonnet-4-5-20250929-v1:0", usage), 1e-9)
	assert.Zero(t, EstimateCost("mystery-model", usage))
}

func TestDiversityFromDataset(t *testing.T) {
	r := Diversity(sampleDataset())
	assert.Equal(t, 3, r.Conversations)
	require.Len(t, r.Placeholders, 1)
	assert.Equal(t, 2, r.Placeholders[0].Unique)
	require.Len(t, r.Profiles, 2)
	assert.Equal(t, "callee", r.Profiles[0].Key)
	assert.Equal(t, 1, r.Profiles[0].Unique)
}

func TestWriteDiversityXLSX(t *testing.T) {
	d := sampleDataset()
	path := filepath.Join(t.TempDir(), "diversity.xlsx")
	require.NoError(t, WriteDiversityXLSX(d, Diversity(d), path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetSummary, sheetPlaceholders, sheetProfiles, sheetConversations}, f.GetSheetList())

	rows, err := f.GetRows(sheetPlaceholders)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "00001", rows[1][0])
	assert.Equal(t, "Officer Tan (2); Inspector Lim (1)", rows[1][7])

	rows, err = f.GetRows(sheetConversations)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, "ms-my-scam-000002", rows[2][0])
	assert.Equal(t, "scammer_b", rows[2][8])
}

type fakePut struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePut) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestUploader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ok":true}`), 0644))

	put := &fakePut{}
	uri, err := newUploader(put, "bucket", "/datasets/").Upload(context.Background(), "RUN1", path)
	require.NoError(t, err)

	assert.Equal(t, "s3://bucket/datasets/RUN1/dataset.json", uri)
	assert.Equal(t, "datasets/RUN1/dataset.json", aws.ToString(put.in.Key))
	assert.Equal(t, "application/json", aws.ToString(put.in.ContentType))
	assert.Equal(t, int64(11), aws.ToInt64(put.in.ContentLength))
	assert.Equal(t, `{"ok":true}`, string(put.body))

	put.err = errors.New("denied")
	_, err = newUploader(put, "bucket", "").Upload(context.Background(), "RUN1", path)
	assert.ErrorContains(t, err, "denied")
}
