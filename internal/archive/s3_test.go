package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type putCall struct {
	key  string
	body string
	meta map[string]string
}

type fakeS3 struct {
	calls []putCall
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.calls = append(f.calls, putCall{key: aws.ToString(in.Key), body: string(body), meta: in.Metadata})
	return &s3.PutObjectOutput{}, nil
}

func TestS3Destination_Write(t *testing.T) {
	api := &fakeS3{}
	d := newS3Destination(api, "ic-audit", "icgate/audit.jsonl", false)
	if d.Name() != "s3://ic-audit/icgate/audit.jsonl" {
		t.Errorf("Name = %q", d.Name())
	}

	data := []byte(`{"type":"header"}` + "\n")
	if err := d.Write(context.Background(), data); err != nil {
		t.Fatal(err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(api.calls))
	}
	c := api.calls[0]
	sum := sha256.Sum256(data)
	if c.key != "icgate/audit.jsonl" || c.body != string(data) {
		t.Errorf("call = %+v", c)
	}
	if c.meta["content-sha256"] != hex.EncodeToString(sum[:]) || c.meta["format-version"] != FormatVersion {
		t.Errorf("meta = %v", c.meta)
	}
}

func TestS3Destination_History(t *testing.T) {
	api := &fakeS3{}
	d := newS3Destination(api, "ic-audit", "icgate/audit.jsonl", true)
	d.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	if err := d.Write(context.Background(), []byte("x\n")); err != nil {
		t.Fatal(err)
	}
	if len(api.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(api.calls))
	}
	if got := api.calls[1].key; got != "icgate/history/20260304T050607Z-audit.jsonl" {
		t.Errorf("history key = %q", got)
	}
	if got := historyKey("audit.jsonl", d.now()); got != "history/20260304T050607Z-audit.jsonl" {
		t.Errorf("root history key = %q", got)
	}
}

func TestS3Destination_PutError(t *testing.T) {
	boom := errors.New("access denied")
	d := newS3Destination(&fakeS3{err: boom}, "b", "k", false)
	if err := d.Write(context.Background(), []byte("x")); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}
