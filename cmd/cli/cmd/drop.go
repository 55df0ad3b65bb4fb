package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var dropReason string

var dropCmd = &cobra.Command{
	Use:   "drop <offer_id>",
	Short: "Mark an instance for removal",
	Args:  cobra.ExactArgs(1),
	RunE:  runDrop,
}

func init() {
	dropCmd.Flags().StringVar(&dropReason, "reason", "", "optional reason logged alongside the drop")
	rootCmd.AddCommand(dropCmd)
}

func runDrop(cmd *cobra.Command, args []string) error {
	offerID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("offer_id must be a positive integer: %w", err)
	}

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/drop/%d", serverURL, offerID), strings.NewReader(dropReason))
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to magister: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("magister error: %s", string(body))
	}

	fmt.Println(string(body))
	return nil
}
