package main

import (
	"context"
	"fmt"

	"github.com/franz/history-restorer/internal/config"
	"github.com/franz/history-restorer/internal/recorder"
	"github.com/franz/history-restorer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var sensorsCmd = &cobra.Command{
	Use:   "sensors [name]",
	Short: "List the sensors known to a recorder database",
	Long: `List every sensor name found in statistics_meta and states_meta.

With a name, look up its statistics id instead; unknown names get the closest
known names suggested.

The database is the newest snapshot with a recorder database, unless
--database points at another file (for example the live database).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSensors,
}

func init() {
	rootCmd.AddCommand(sensorsCmd)

	sensorsCmd.Flags().String("database", "", "recorder database to read (default: newest snapshot)")
	sensorsCmd.Flags().String("snapshot", "", "snapshot id to read instead of the newest")
}

func runSensors(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	path, err := recorderPath(cmd)
	if err != nil {
		return err
	}
	util.DebugLog("Reading sensors from %s", path)

	db, err := recorder.OpenReadOnly(path)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		id, err := db.StatisticID(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%d\n", args[0], id)
		return nil
	}

	names, err := db.ListSensors(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	util.InfoLog("%d sensors in %s", len(names), path)
	return nil
}

// recorderPath resolves --database, then --snapshot, then the newest
// snapshot that has a database.
func recorderPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("database"); path != "" {
		return path, nil
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return "", err
	}
	snaps, err := cfg.SnapshotStore()
	if err != nil {
		return "", err
	}

	if id, _ := cmd.Flags().GetString("snapshot"); id != "" {
		s := snaps.Resolve(id)
		if !s.Present() {
			return "", fmt.Errorf("%w: snapshot %s has no database at %s", util.ErrNotFound, id, s.Path)
		}
		return s.Path, nil
	}

	all := snaps.Snapshots()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Present() {
			return all[i].Path, nil
		}
	}
	return "", fmt.Errorf("%w: no snapshot in %s has a database", util.ErrNotFound, snaps.Dir())
}
