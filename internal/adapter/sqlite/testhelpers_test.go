package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "wall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(ctx, db))
	return db
}

func newTestStickerRepo(t *testing.T) (*StickerRepo, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	return NewStickerRepo(openTestDB(t), clock), clock
}

func profile(userID string) domain.UserProfile {
	return domain.UserProfile{UserID: userID, Username: "user_" + userID, DisplayName: "User " + userID, ChatRef: "chat-" + userID}
}

func submission(userID, stickerID string) domain.Submission {
	return domain.Submission{
		Profile:       profile(userID),
		StickerID:     stickerID,
		FileExtension: "webp",
		StoragePath:   "stickers/" + stickerID + ".webp",
	}
}

// mustSubmit commits an accepted submission.
func mustSubmit(t *testing.T, repo *StickerRepo, userID, stickerID string) *domain.SubmissionOutcome {
	t.Helper()
	out, err := repo.Submit(context.Background(), submission(userID, stickerID), nil)
	require.NoError(t, err)
	return out
}
