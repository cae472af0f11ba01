package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	httpawg "github.com/nasa-jpl/gopulser/generichttp/awg"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

var addr string

var rootCmd = &cobra.Command{
	Use:     "awgctl",
	Short:   "awgctl drives an arbitrary waveform generator served by awgsrv",
	Version: Version,
	Long: `awgctl is the command line companion to awgsrv.  It speaks to a single
AWG node; point it at the node's mount with --addr, e.g.
awgctl --addr http://lab-server:8000/nv/awg status`,
	SilenceUsage: true,
}

func client() Client {
	return NewClient(addr)
}

// spinner returns a started spinner; callers Stop or StopFail it
func spinner(suffix string) (*yacspin.Spinner, error) {
	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[59],
		Suffix:            suffix,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		return nil, err
	}
	return s, s.Start()
}

func printJSON(obj interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(obj)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "report whether the device is playing back",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := client().Status()
		if err != nil {
			return err
		}
		switch s {
		case 1:
			fmt.Println("running")
		case 0:
			fmt.Println("stopped")
		default:
			fmt.Println("fault")
		}
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "dump a snapshot of the device state as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := client().State()
		if err != nil {
			return err
		}
		return printJSON(s)
	},
}

var constraintsCmd = &cobra.Command{
	Use:   "constraints",
	Short: "dump the hardware limits as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client().Constraints()
		if err != nil {
			return err
		}
		return printJSON(c)
	},
}

var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "list the written waveforms and sequences",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		waveforms, err := c.WaveformNames()
		if err != nil {
			return err
		}
		sequences, err := c.SequenceNames()
		if err != nil {
			return err
		}
		fmt.Println("waveforms:")
		for _, name := range waveforms {
			fmt.Println("\t" + name)
		}
		fmt.Println("sequences:")
		for _, name := range sequences {
			fmt.Println("\t" + name)
		}
		return nil
	},
}

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "show what is armed for playback",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := client().LoadedAssets()
		if err != nil {
			return err
		}
		return printJSON(a)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <waveform.json>",
	Short: "write a waveform described by a JSON file to the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		up := httpawg.WaveformUpload{}
		if err := json.NewDecoder(f).Decode(&up); err != nil {
			return err
		}
		spin, err := spinner(" uploading " + up.Name)
		if err != nil {
			return err
		}
		reply, err := client().WriteWaveform(up)
		if err != nil {
			spin.StopFail()
			return err
		}
		spin.Stop()
		fmt.Printf("wrote %d samples as %s\n", reply.Samples, strings.Join(reply.Names, ", "))
		return nil
	},
}

var uploadSeqCmd = &cobra.Command{
	Use:   "upload-seq <sequence.json>",
	Short: "write a sequence program described by a JSON file to the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		up := httpawg.SequenceUpload{}
		if err := json.NewDecoder(f).Decode(&up); err != nil {
			return err
		}
		spin, err := spinner(" writing sequence " + up.Name)
		if err != nil {
			return err
		}
		steps, err := client().WriteSequence(up)
		if err != nil {
			spin.StopFail()
			return err
		}
		spin.Stop()
		fmt.Printf("wrote %d steps\n", steps)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "delete every per-channel entry of a waveform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deleted, err := client().DeleteWaveform(args[0])
		if err != nil {
			return err
		}
		if len(deleted) == 0 {
			fmt.Println("nothing to delete")
			return nil
		}
		fmt.Printf("deleted %s\n", strings.Join(deleted, ", "))
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <name_ch1> [name_ch2 ...]",
	Short: "arm written waveforms for playback by per-channel name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spin, err := spinner(" loading " + strings.Join(args, ", "))
		if err != nil {
			return err
		}
		assets, err := client().LoadWaveforms(args)
		if err != nil {
			spin.StopFail()
			return err
		}
		spin.Stop()
		return printJSON(assets)
	},
}

var loadSeqCmd = &cobra.Command{
	Use:   "load-seq <name>",
	Short: "arm a written sequence for playback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spin, err := spinner(" loading sequence " + args[0])
		if err != nil {
			return err
		}
		assets, err := client().LoadSequence(args[0])
		if err != nil {
			spin.StopFail()
			return err
		}
		spin.Stop()
		return printJSON(assets)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start playback",
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().Run()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "halt playback",
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().Stop()
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "wipe device waveform and sequence memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().ClearAll()
	},
}

var rateCmd = &cobra.Command{
	Use:   "rate [hz]",
	Short: "read the sample clock, or set it when given a value in Hz",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		if len(args) == 0 {
			rate, err := c.SampleRate()
			if err != nil {
				return err
			}
			fmt.Printf("%G\n", rate)
			return nil
		}
		req, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		rate, err := c.SetSampleRate(req)
		if err != nil {
			return err
		}
		fmt.Printf("%G\n", rate)
		return nil
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger [cont|trig|gate]",
	Short: "read the trigger mode, or set it when given one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		if len(args) == 0 {
			mode, err := c.TriggerMode()
			if err != nil {
				return err
			}
			fmt.Println(mode)
			return nil
		}
		return c.SetTriggerMode(args[0])
	},
}

var rawCmd = &cobra.Command{
	Use:   "raw <command ...>",
	Short: "send a raw command to the device, printing the response for queries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client().Raw(strings.Join(args, " "))
		if err != nil {
			return err
		}
		if resp != "" {
			fmt.Println(resp)
		}
		return nil
	},
}

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "dump the server's route graph as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		graph, err := client().Endpoints()
		if err != nil {
			return err
		}
		return printJSON(graph)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8000/nv/awg", "base URL of the AWG node")
	rootCmd.AddCommand(statusCmd, stateCmd, constraintsCmd, namesCmd, assetsCmd,
		uploadCmd, uploadSeqCmd, deleteCmd, loadCmd, loadSeqCmd,
		runCmd, stopCmd, clearCmd, rateCmd, triggerCmd, rawCmd, endpointsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
