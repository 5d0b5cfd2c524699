package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/itiky/drawsync/storage"
)

const (
	FlagFilePath      = "file-path"
	FlagGenBoardId    = "board-id"
	FlagPages         = "pages"
	FlagShapesPerPage = "shapes-per-page"
)

// GetGenerateCmd returns the board seed generation command.
func GetGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a board seed file",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			filePath, err := cmd.Flags().GetString(FlagFilePath)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagFilePath, err)
			}
			boardId, err := cmd.Flags().GetString(FlagGenBoardId)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagGenBoardId, err)
			}
			numPages, err := cmd.Flags().GetInt(FlagPages)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagPages, err)
			}
			shapesPerPage, err := cmd.Flags().GetInt(FlagShapesPerPage)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagShapesPerPage, err)
			}

			// Work
			if err := storage.GenAndSaveBoardSeed(filePath, boardId, numPages, shapesPerPage); err != nil {
				log.Fatalf("gen failed: %v", err)
			}
		},
	}
	cmd.Flags().String(FlagFilePath, "./board_seed.dat", "(optional) output file path")
	cmd.Flags().String(FlagGenBoardId, "demo", "(optional) board id to seed")
	cmd.Flags().Int(FlagPages, 3, "(optional) number of pages")
	cmd.Flags().Int(FlagShapesPerPage, 100, "(optional) shapes per page")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetGenerateCmd())
}
