// Command grading_smoke drives a running gradekit server end to end: upload
// an archive and roster, start a run, poll until it finishes, then export and
// download the result. Exits non-zero on the first failed step.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type uploadResult struct {
	UploadID  string `json:"uploadId"`
	FileCount int    `json:"fileCount"`
}

type runResult struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error"`
}

type exportResult struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

func main() {
	var (
		base        string
		token       string
		archivePath string
		rosterPath  string
		title       string
		pointScale  float64
		timeout     time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.StringVar(&token, "token", "", "Bearer token")
	flag.StringVar(&archivePath, "archive", "", "Path to a submission zip")
	flag.StringVar(&rosterPath, "roster", "", "Optional path to a gradebook csv")
	flag.StringVar(&title, "title", "Smoke test assignment", "Assignment title")
	flag.Float64Var(&pointScale, "point-scale", 100, "Point scale")
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "Overall run timeout")
	flag.Parse()

	if archivePath == "" {
		log.Fatal("-archive is required")
	}

	client := &smokeClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 60 * time.Second},
	}

	upload := &uploadResult{}
	if err := client.uploadFile("/uploads/submissions", archivePath, upload); err != nil {
		log.Fatalf("archive upload failed: %v", err)
	}
	fmt.Printf("archive uploaded: %s (%d files)\n", upload.UploadID, upload.FileCount)

	rosterID := ""
	if rosterPath != "" {
		roster := &uploadResult{}
		if err := client.uploadFile("/uploads/roster", rosterPath, roster); err != nil {
			log.Fatalf("roster upload failed: %v", err)
		}
		rosterID = roster.UploadID
		fmt.Printf("roster uploaded: %s\n", rosterID)
	}

	run := &runResult{}
	payload := map[string]interface{}{
		"assignmentTitle": title,
		"pointScale":      pointScale,
		"uploadId":        upload.UploadID,
	}
	if rosterID != "" {
		payload["rosterUploadId"] = rosterID
	}
	if err := client.postJSON("/runs", payload, run); err != nil {
		log.Fatalf("start run failed: %v", err)
	}
	fmt.Printf("run started: %s\n", run.ID)

	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			log.Fatalf("run %s did not finish within %s", run.ID, timeout)
		}
		status := &runResult{}
		if err := client.getJSON("/runs/"+run.ID, status); err != nil {
			log.Fatalf("poll failed: %v", err)
		}
		fmt.Printf("  %s %d%%\n", status.Status, status.Progress)
		if status.Status == "FAILED" {
			log.Fatalf("run failed: %s", status.Error)
		}
		if status.Status == "FINISHED" {
			break
		}
		time.Sleep(3 * time.Second)
	}

	export := &exportResult{}
	if err := client.postJSON("/runs/"+run.ID+"/export", map[string]interface{}{"format": "csv"}, export); err != nil {
		log.Fatalf("export failed (review may be incomplete): %v", err)
	}
	fmt.Printf("export ready: %s\n", export.URL)

	size, err := client.download(export.URL)
	if err != nil {
		log.Fatalf("download failed: %v", err)
	}
	fmt.Printf("downloaded %d bytes, smoke test passed\n", size)
}

type smokeClient struct {
	base  string
	token string
	http  *http.Client
}

func (c *smokeClient) uploadFile(path, filePath string, out interface{}) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, out)
}

func (c *smokeClient) postJSON(path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *smokeClient) getJSON(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *smokeClient) download(url string) (int64, error) {
	if strings.HasPrefix(url, "/") {
		// Signed links come back relative to the API prefix.
		root := c.base
		if idx := strings.Index(root, "/api/"); idx >= 0 {
			root = root[:idx]
		}
		url = root + url
	}
	resp, err := c.http.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.Copy(io.Discard, resp.Body)
}

func (c *smokeClient) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if env.Error != nil {
		return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
