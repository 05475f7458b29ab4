package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// alloyctl drives the transformation API from the command line, mainly for
// CI pipelines and operator use.

type cli struct {
	server string
	token  string
	http   *http.Client
}

func main() {
	var (
		server  = flag.String("server", "http://localhost:8080", "API base URL")
		token   = flag.String("token", os.Getenv("ALLOY_TOKEN"), "bearer token (defaults to $ALLOY_TOKEN)")
		repoURL = flag.String("repo-url", "", "repository URL to transform")
		repoID  = flag.String("repo-id", "", "repository identifier")
		branch  = flag.String("branch", "main", "branch to transform")
		tType   = flag.String("type", "REFACTOR", "transformation type")
		level   = flag.String("level", "standard", "verification level")
		files   = flag.String("files", "", "comma-separated file paths to transform")
		safe    = flag.Bool("safe", true, "only write verified transformations")
		wait    = flag.Bool("wait", false, "poll status until the job is terminal")
		timeout = flag.Duration("timeout", 600*time.Second, "maximum wait time with -wait")
		status  = flag.String("status", "", "print status of the given job ID and exit")
		cancel  = flag.String("cancel", "", "cancel the given job ID and exit")
		scan    = flag.Bool("scan", false, "scan the repository for candidate files and exit")
	)
	flag.Parse()

	c := &cli{
		server: strings.TrimRight(*server, "/"),
		token:  *token,
		http:   &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch {
	case *status != "":
		err = c.printStatus(*status)
	case *cancel != "":
		err = c.cancelJob(*cancel)
	case *scan:
		err = c.scanRepo(*repoURL, *repoID, *branch)
	default:
		err = c.createJob(*repoURL, *repoID, *branch, *tType, *level, *files, *safe, *wait, *timeout)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (c *cli) createJob(repoURL, repoID, branch, tType, level, files string, safe, wait bool, timeout time.Duration) error {
	if repoURL == "" || repoID == "" || files == "" {
		return fmt.Errorf("-repo-url, -repo-id and -files are required")
	}
	paths := strings.Split(files, ",")
	for i := range paths {
		paths[i] = strings.TrimSpace(paths[i])
	}

	payload := map[string]interface{}{
		"repo_id":             repoID,
		"repo_url":            repoURL,
		"branch":              branch,
		"transformation_type": tType,
		"verification_level":  level,
		"safe_mode":           safe,
		"file_paths":          paths,
	}
	var job struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := c.call(http.MethodPost, "/api/transformations", payload, &job); err != nil {
		return err
	}
	fmt.Printf("created job %s (%s)\n", job.JobID, job.Status)

	if !wait {
		return nil
	}
	return c.waitForJob(job.JobID, timeout)
}

func (c *cli) waitForJob(jobID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for job %s", jobID)
		}
		time.Sleep(5 * time.Second)

		job, err := c.fetchJob(jobID)
		if err != nil {
			return err
		}
		fmt.Printf("job %s: %s (%d/%d processed, %d ok, %d failed)\n",
			jobID, job.Status, job.Processed, job.Total, job.Successful, job.Failed)
		switch job.Status {
		case "completed", "failed", "cancelled":
			if job.Status != "completed" {
				return fmt.Errorf("job finished as %s", job.Status)
			}
			return nil
		}
	}
}

type jobInfo struct {
	Status     string `json:"status"`
	Total      int    `json:"total_files"`
	Processed  int    `json:"processed_files"`
	Successful int    `json:"successful_transformations"`
	Failed     int    `json:"failed_transformations"`
	Error      string `json:"error_message"`
}

func (c *cli) fetchJob(jobID string) (*jobInfo, error) {
	var job jobInfo
	if err := c.call(http.MethodGet, "/api/transformations/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *cli) printStatus(jobID string) error {
	job, err := c.fetchJob(jobID)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s\nfiles: %d/%d processed, %d successful, %d failed\n",
		job.Status, job.Processed, job.Total, job.Successful, job.Failed)
	if job.Error != "" {
		fmt.Printf("error: %s\n", job.Error)
	}
	return nil
}

func (c *cli) cancelJob(jobID string) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.call(http.MethodDelete, "/api/transformations/"+jobID, nil, &out); err != nil {
		return err
	}
	fmt.Printf("job %s: %s\n", jobID, out.Status)
	return nil
}

func (c *cli) scanRepo(repoURL, repoID, branch string) error {
	if repoURL == "" || repoID == "" {
		return fmt.Errorf("-repo-url and -repo-id are required for -scan")
	}
	payload := map[string]interface{}{
		"repo_id":  repoID,
		"repo_url": repoURL,
		"branch":   branch,
	}
	var out struct {
		Files []struct {
			Path     string  `json:"path"`
			Language string  `json:"language"`
			SizeKB   float64 `json:"size_kb"`
		} `json:"files"`
	}
	if err := c.call(http.MethodPost, "/api/repositories/scan", payload, &out); err != nil {
		return err
	}
	for _, f := range out.Files {
		fmt.Printf("%-10s %8.1fKB  %s\n", f.Language, f.SizeKB, f.Path)
	}
	fmt.Printf("%d candidate files\n", len(out.Files))
	return nil
}

func (c *cli) call(method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.server+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
