package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unattended-backpack/magister/pkg/models"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "Inspect the live instance table",
}

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances currently held by Magister",
	RunE:  runInstancesList,
}

func init() {
	rootCmd.AddCommand(instancesCmd)
	instancesCmd.AddCommand(instancesListCmd)
}

func runInstancesList(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/instances")
	if err != nil {
		return fmt.Errorf("failed to connect to magister: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("magister error: %s", string(body))
	}

	var instances []models.Instance
	if err := json.NewDecoder(resp.Body).Decode(&instances); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(instances)
	}

	if len(instances) == 0 {
		fmt.Println("No instances held.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE_ID\tOFFER_ID\tGPU\t$/HR\tVERIFIED\tSHOULD_DROP")
	for _, inst := range instances {
		fmt.Fprintf(w, "%d\t%d\t%s\t$%.3f\t%t\t%t\n",
			inst.InstanceID, inst.Offer.OfferID, inst.Offer.GPUName,
			inst.Offer.DPHTotal, inst.ContemplantVerified, inst.ShouldDrop)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d instances\n", len(instances))
	return nil
}
