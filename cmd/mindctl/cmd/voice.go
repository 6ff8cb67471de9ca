package cmd

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"mindgarden/backend/internal/service"

	"github.com/spf13/cobra"
)

func init() {
	voiceCmd.Flags().String("audio", "", "recording to upload")
	voiceCmd.Flags().String("content-type", "audio/wav", "content type of the recording")
	voiceCmd.Flags().String("text", "", "typed fallback used when transcription fails")
	voiceCmd.Flags().StringP("output", "o", "", "save the spoken reply to this file")
	rootCmd.AddCommand(voiceCmd)
}

var voiceCmd = &cobra.Command{
	Use:   "voice [session-id]",
	Short: "Send one voice turn to a voice therapy session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}
		audioPath, _ := cmd.Flags().GetString("audio")
		contentType, _ := cmd.Flags().GetString("content-type")
		text, _ := cmd.Flags().GetString("text")
		output, _ := cmd.Flags().GetString("output")
		if audioPath == "" && text == "" {
			return fmt.Errorf("either --audio or --text is required")
		}

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		if audioPath != "" {
			if err := attachRecording(writer, audioPath, contentType); err != nil {
				return err
			}
		}
		if text != "" {
			if err := writer.WriteField("text", text); err != nil {
				return err
			}
		}
		if err := writer.Close(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
			endpoint("/api/v1/voice/sessions/"+args[0]+"/turns"), body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		var result service.VoiceTurnResult
		if err := do(req, &result); err != nil {
			return err
		}

		fmt.Printf("you: %s\n", result.Transcript)
		if result.Answer != nil {
			fmt.Printf("> %s\n", result.Answer.Content)
		}
		if output == "" || result.ReplyAudioURL == "" {
			return nil
		}
		return download(cmd, result.ReplyAudioURL, output)
	},
}

func attachRecording(writer *multipart.Writer, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func download(cmd *cobra.Command, audioURL, output string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint(audioURL), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch reply audio: status %d", resp.StatusCode)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "saved %d bytes to %s\n", n, output)
	return nil
}
