package submission

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/auditflow/pkg/storage"
)

func TestSecureName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd.doc", "passwd.doc"},
		{`C:\Users\me\Q1 report.docx`, "Q1_report.docx"},
		{".hidden.pdf", "hidden.pdf"},
		{"résumé final.pdf", "r_sum_final.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SecureName(tt.in))
		})
	}
}

func TestValidateSheetURL(t *testing.T) {
	require.NoError(t, ValidateSheetURL("https://docs.google.com/spreadsheets/d/1AbC_d-9/edit#gid=0"))
	require.NoError(t, ValidateSheetURL("  https://docs.google.com/spreadsheets/d/abc  "))

	for _, bad := range []string{
		"",
		"http://docs.google.com/spreadsheets/d/abc",
		"https://docs.google.com/document/d/abc",
		"https://example.com/spreadsheets/d/abc",
	} {
		require.ErrorIs(t, ValidateSheetURL(bad), ErrInvalidSubmission, bad)
	}
}

func TestValidateDocument(t *testing.T) {
	require.NoError(t, ValidateDocument("a.PDF", 1))
	require.NoError(t, ValidateDocument("a.docx", MaxDocumentSize))
	require.ErrorIs(t, ValidateDocument("a.txt", 1), ErrInvalidSubmission)
	require.ErrorIs(t, ValidateDocument("a.pdf", 0), ErrInvalidSubmission)
	require.ErrorIs(t, ValidateDocument("a.pdf", MaxDocumentSize+1), ErrInvalidSubmission)
}

func TestSubmission_Value(t *testing.T) {
	var none *Submission
	assert.Empty(t, none.Value())

	link, err := SheetLink(" https://docs.google.com/spreadsheets/d/abc ", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, TypeSheetLink, link.Type)
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/abc", link.Value())

	_, err = SheetLink("https://example.com", time.Time{})
	require.ErrorIs(t, err, ErrInvalidSubmission)
}

func TestDocumentStore(t *testing.T) {
	ctx := context.Background()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	docs := NewDocumentStore(local)
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	data := []byte("%PDF-1.4")

	sub, err := docs.SaveDocument(ctx, "TKT-20250106-001", 0, "../Q1 report.pdf", data, now)
	require.NoError(t, err)
	assert.Equal(t, TypeDocument, sub.Type)
	assert.Equal(t, "Q1_report.pdf", sub.DocumentName)
	assert.Regexp(t, `^documents/TKT-20250106-001_0_[0-9A-Z]{26}_Q1_report\.pdf$`, sub.DocumentPath)
	assert.Equal(t, now, sub.SubmittedAt)

	_, err = docs.SaveDocument(ctx, "TKT-20250106-001", 2, "notes.docx", data, now)
	require.NoError(t, err)
	other, err := docs.SaveDocument(ctx, "TKT-20250106-002", 1, "other.pdf", data, now)
	require.NoError(t, err)
	_, err = docs.SaveDocument(ctx, "TKT-20250106-002", 1, "script.sh", data, now)
	require.ErrorIs(t, err, ErrInvalidSubmission)

	got, err := docs.ReadDocument(ctx, sub)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	_, err = docs.ReadDocument(ctx, &Submission{Type: TypeSheetLink})
	require.ErrorIs(t, err, storage.ErrNotFound)

	n, err := docs.DeleteDocuments(ctx, "TKT-20250106-001")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = docs.ReadDocument(ctx, sub)
	require.ErrorIs(t, err, storage.ErrNotFound)

	remaining, err := local.List(ctx, "documents/")
	require.NoError(t, err)
	assert.Equal(t, []string{other.DocumentPath}, remaining)
}

func TestDocumentStore_SameNameKeepsBothUploads(t *testing.T) {
	ctx := context.Background()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	docs := NewDocumentStore(local)

	first, err := docs.SaveDocument(ctx, "TKT-20250106-001", 1, "report.pdf", []byte("STEP ONE"), time.Time{})
	require.NoError(t, err)
	second, err := docs.SaveDocument(ctx, "TKT-20250106-001", 2, "report.pdf", []byte("STEP TWO"), time.Time{})
	require.NoError(t, err)
	again, err := docs.SaveDocument(ctx, "TKT-20250106-001", 1, "report.pdf", []byte("STEP ONE v2"), time.Time{})
	require.NoError(t, err)
	assert.NotEqual(t, first.DocumentPath, again.DocumentPath)

	for want, sub := range map[string]*Submission{"STEP ONE": first, "STEP TWO": second, "STEP ONE v2": again} {
		got, err := docs.ReadDocument(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	require.NoError(t, docs.DeleteDocument(ctx, first))
	require.NoError(t, docs.DeleteDocument(ctx, first), "deleting twice is fine")
	require.NoError(t, docs.DeleteDocument(ctx, &Submission{Type: TypeSheetLink}))
	_, err = docs.ReadDocument(ctx, first)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = docs.ReadDocument(ctx, second)
	require.NoError(t, err)
}
