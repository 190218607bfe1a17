package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/pkg/api/v1/client"
)

// jobOutput represents the filtered output for a job
type jobOutput struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// jobListOutput represents the filtered output for a list of jobs
type jobListOutput struct {
	Jobs []jobOutput `json:"jobs"`
}

func init() {
	jobsCmd.AddCommand(submitJobCmd)
	jobsCmd.AddCommand(listJobsCmd)
	jobsCmd.AddCommand(getJobCmd)
	jobsCmd.AddCommand(resultJobCmd)
	jobsCmd.AddCommand(downloadJobCmd)
	jobsCmd.AddCommand(resubmitJobCmd)
	jobsCmd.AddCommand(cancelJobCmd)

	// Add flags
	submitJobCmd.Flags().StringP("file", "f", "", "Path of the PDF to convert")
	submitJobCmd.Flags().IntP("priority", "p", 0, "Dispatch priority (higher runs first)")
	submitJobCmd.Flags().Bool("no-llm", false, "Skip LLM post-processing")
	submitJobCmd.Flags().String("provider", "", "Force a specific LLM provider")
	submitJobCmd.Flags().String("model", "", "Override the LLM model")
	_ = submitJobCmd.MarkFlagRequired("file")

	listJobsCmd.Flags().IntP("limit", "l", 0, "Limit the number of jobs returned")
	listJobsCmd.Flags().String("status", "", "Filter jobs by status")

	getJobCmd.Flags().StringP("id", "i", "", "Job ID to fetch")
	_ = getJobCmd.MarkFlagRequired("id")
	getJobCmd.Flags().Bool("events", false, "Include the job's progress log")

	resultJobCmd.Flags().StringP("id", "i", "", "Job ID to fetch the result of")
	_ = resultJobCmd.MarkFlagRequired("id")

	downloadJobCmd.Flags().StringP("id", "i", "", "Job ID to download an artifact of")
	downloadJobCmd.Flags().String("kind", "docx", "Artifact kind (docx or xlsx)")
	downloadJobCmd.Flags().StringP("out", "o", "", "Destination path")
	_ = downloadJobCmd.MarkFlagRequired("id")
	_ = downloadJobCmd.MarkFlagRequired("out")

	resubmitJobCmd.Flags().StringP("id", "i", "", "Job ID to resubmit")
	_ = resubmitJobCmd.MarkFlagRequired("id")

	cancelJobCmd.Flags().StringP("id", "i", "", "Job ID to cancel")
	_ = cancelJobCmd.MarkFlagRequired("id")
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage conversion jobs",
}

var submitJobCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a PDF for conversion",
	RunE: func(cmd *cobra.Command, _ []string) error {
		file, _ := cmd.Flags().GetString("file")
		priority, _ := cmd.Flags().GetInt("priority")
		noLLM, _ := cmd.Flags().GetBool("no-llm")
		provider, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")

		var llmOpts *models.LLMOptions
		if noLLM || provider != "" || model != "" {
			llmOpts = &models.LLMOptions{Provider: provider, Model: model}
			if noLLM {
				disabled := false
				llmOpts.EnableLLM = &disabled
			}
		}

		job, err := apiClient.SubmitJob(context.Background(), &client.SubmitJobRequest{
			FilePath:   file,
			Priority:   priority,
			LLMOptions: llmOpts,
		})
		if err != nil {
			return fmt.Errorf("error submitting job: %w", err)
		}
		return printJSON(toOutput(job))
	},
}

var listJobsCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")

		jobs, err := apiClient.ListJobs(context.Background(), limit, status)
		if err != nil {
			return fmt.Errorf("error fetching jobs: %w", err)
		}

		output := jobListOutput{Jobs: make([]jobOutput, len(jobs))}
		for i := range jobs {
			output.Jobs[i] = toOutput(&jobs[i])
		}
		return printJSON(output)
	},
}

var getJobCmd = &cobra.Command{
	Use:   "get",
	Short: "Get a specific job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetString("id")
		withEvents, _ := cmd.Flags().GetBool("events")

		job, err := apiClient.GetJob(context.Background(), jobID)
		if err != nil {
			return fmt.Errorf("error fetching job: %w", err)
		}
		if !withEvents {
			return printJSON(job)
		}

		events, err := apiClient.GetJobEvents(context.Background(), jobID)
		if err != nil {
			return fmt.Errorf("error fetching job events: %w", err)
		}
		return printJSON(map[string]interface{}{
			"job":    job,
			"events": events,
		})
	},
}

var resultJobCmd = &cobra.Command{
	Use:   "result",
	Short: "Print the result payload of a completed job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetString("id")

		result, err := apiClient.GetJobResult(context.Background(), jobID)
		if err != nil {
			return fmt.Errorf("error fetching result: %w", err)
		}
		var pretty interface{}
		if err := json.Unmarshal(result, &pretty); err != nil {
			fmt.Println(string(result))
			return nil
		}
		return printJSON(pretty)
	},
}

var downloadJobCmd = &cobra.Command{
	Use:   "download",
	Short: "Download an exported document",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetString("id")
		kind, _ := cmd.Flags().GetString("kind")
		out, _ := cmd.Flags().GetString("out")

		if err := apiClient.DownloadArtifact(context.Background(), jobID, kind, out); err != nil {
			return fmt.Errorf("error downloading artifact: %w", err)
		}
		fmt.Printf("Saved %s artifact to %s\n", kind, out)
		return nil
	},
}

var resubmitJobCmd = &cobra.Command{
	Use:   "resubmit",
	Short: "Put a failed job back in the queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetString("id")

		job, err := apiClient.ResubmitJob(context.Background(), jobID)
		if err != nil {
			return fmt.Errorf("error resubmitting job: %w", err)
		}
		return printJSON(toOutput(job))
	},
}

var cancelJobCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Request cancellation of a processing job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetString("id")

		if err := apiClient.CancelJob(context.Background(), jobID); err != nil {
			return fmt.Errorf("error cancelling job: %w", err)
		}
		fmt.Println("Cancellation requested")
		return nil
	},
}

// GetJobsCmd returns the jobs command
func GetJobsCmd() *cobra.Command {
	return jobsCmd
}

func toOutput(job *models.Job) jobOutput {
	return jobOutput{
		ID:       job.ID.String(),
		Filename: job.InputFilename,
		Status:   string(job.Status),
		Error:    job.Error,
	}
}

func printJSON(v interface{}) error {
	prettyJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Println(string(prettyJSON))
	return nil
}
