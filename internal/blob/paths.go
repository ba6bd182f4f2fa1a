package blob

import (
	"fmt"
	"time"
)

// batchTimestampLayout is the compact timestamp embedded in link-batch keys.
const batchTimestampLayout = "20060102T150405"

// JobKey returns the object key for a job payload.
func JobKey(jobID string) string {
	return fmt.Sprintf("crawl_tasks/%s.json", jobID)
}

// LinkBatchKey returns the object key for a crawler-emitted link batch.
func LinkBatchKey(batchID string, ts time.Time) string {
	return fmt.Sprintf("new_tasks/%s_%s.json", batchID, ts.UTC().Format(batchTimestampLayout))
}

// RawHTMLKey returns the object key for raw fetched HTML.
func RawHTMLKey(contentID string) string {
	return fmt.Sprintf("raw_html/%s.html", contentID)
}

// ProcessedTextKey returns the object key for extracted page text.
func ProcessedTextKey(contentID string) string {
	return fmt.Sprintf("processed_text/%s.txt", contentID)
}
