// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ican/pkg/device"
	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/store"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Show and edit the node configuration",
	Long: `Show and edit the persisted node configuration (--store).

Changes take effect the next time the node is started with the run command.`,
}

var deviceSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Get a summary of device settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.File) error {
			fmt.Print(deviceSummary(st))
			return nil
		})
	},
}

var deviceIDCmd = &cobra.Command{
	Use:   "id ID",
	Short: "Set the device id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil {
			return fmt.Errorf("invalid device id %q: %w", args[0], err)
		}
		return withStore(func(st *store.File) error {
			return st.SetU8(store.KeyID, uint8(id))
		})
	},
}

var deviceTypeCmd = &cobra.Command{
	Use:   "type <Button|Relais|Gateway|Rollershutter|SSR>",
	Short: "Set the device type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := ican.ParseDeviceType(args[0])
		if err != nil {
			return err
		}
		if t == ican.DeviceUnknown {
			return fmt.Errorf("device type %s is unknown", args[0])
		}
		return withStore(func(st *store.File) error {
			return st.SetU8(store.KeyType, uint8(t))
		})
	},
}

var deviceCustomStringCmd = &cobra.Command{
	Use:   "custom-string STRING",
	Short: "Set the device custom string",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args[0]) > ican.MaxDataLen {
			return fmt.Errorf("custom string must be max. %d chars long", ican.MaxDataLen)
		}
		return withStore(func(st *store.File) error {
			return st.SetString(store.KeyCustomString, args[0])
		})
	},
}

var deviceRevCmd = &cobra.Command{
	Use:   "rev REV",
	Short: "Set the device hardware revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setU8Arg(store.KeyHWRev, args[0])
	},
}

var deviceLegacySensorCmd = &cobra.Command{
	Use:   "legacy-sensor MODE",
	Short: "Set the legacy sensor mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setU8Arg(store.KeyLegacySensor, args[0])
	},
}

var deviceBitrateCmd = &cobra.Command{
	Use:   "bitrate <22222|25000|50000|100000>",
	Short: "Set the device CAN bus bitrate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := ican.ParseBitrate(args[0])
		if err != nil {
			return err
		}
		return withStore(func(st *store.File) error {
			return st.SetU8(store.KeyBitrate, uint8(b))
		})
	},
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceSummaryCmd, deviceIDCmd, deviceTypeCmd, deviceCustomStringCmd,
		deviceRevCmd, deviceLegacySensorCmd, deviceBitrateCmd)
}

// withStore opens the configuration file for the duration of fn
func withStore(fn func(st *store.File) error) error {
	st, err := store.OpenFile(storePath)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		st.Close()
		return err
	}
	return st.Close()
}

func setU8Arg(key, arg string) error {
	v, err := strconv.ParseUint(arg, 0, 8)
	if err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", arg, key, err)
	}
	return withStore(func(st *store.File) error {
		return st.SetU8(key, uint8(v))
	})
}

// deviceSummary formats the stored configuration
func deviceSummary(st store.Store) string {
	devType := ican.DeviceType(st.U8(store.KeyType, 0))
	bitrate := ican.Bitrate(st.U8(store.KeyBitrate, uint8(ican.DefaultBitrate)))

	result := "-------------------------------------\n"
	result += "Device Summary\n"
	result += fmt.Sprintf("APP VERSION: %s\n", device.VersionString(Version))
	result += fmt.Sprintf("Device ID: %d\n", st.U8(store.KeyID, 0))
	result += fmt.Sprintf("Device Type: %d (%s)\n", uint8(devType), devType)
	result += fmt.Sprintf("Hardware Revision: %d\n", st.U8(store.KeyHWRev, 0))
	result += fmt.Sprintf("Legacy Sensor Mode: %d\n", st.U8(store.KeyLegacySensor, 0))
	result += fmt.Sprintf("Custom String: %s\n", st.String(store.KeyCustomString, ""))
	result += fmt.Sprintf("CANBus bitrate: %s\n", bitrate)
	result += "-------------------------------------\n"
	return result
}
