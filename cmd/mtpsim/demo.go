package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usbarmory/tamago-mtp/usb/mtp"
	"github.com/usbarmory/tamago-mtp/usb/mtp/memvfs"
)

var demoVolumeBytes uint64

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted OpenSession..CloseSession transaction sequence",
	Long: `demo opens a session against a single in-memory volume, sends a
small text file with SendObjectInfo/SendObject, lists and reads it back with
GetObjectHandles/GetObjectInfo/GetObject/GetObjectPropList, deletes it, and
closes the session — printing the response code and parameters of every
command along the way.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().Uint64Var(&demoVolumeBytes, "volume-bytes", 1<<20, "capacity of the simulated volume")
}

func runDemo(cmd *cobra.Command, args []string) error {
	vol := memvfs.New(demoVolumeBytes)
	fs := &memvfs.FileSystem{Volumes: []*memvfs.Volume{vol}}

	cfg := mtp.Config{
		Manufacturer: "WithSecure",
		FriendlyName: "mtpsim",
		Serial:       "000000000000",
	}

	e := mtp.NewEngine(fs, cfg)
	tr := newTransport(e)

	storageID := uint32(1)<<16 | 1

	step := func(label string, code uint16, params []uint32, outData []byte) ([]uint32, []byte) {
		rcode, rparams, data, err := tr.command(code, params, outData)
		if err != nil {
			fmt.Printf("%-24s ERROR %v\n", label, err)
			return nil, nil
		}
		fmt.Printf("%-24s %-28s params=%v\n", label, rcode, rparams)
		return rparams, data
	}

	step("OpenSession", mtp.OP_OpenSession, []uint32{1}, nil)
	step("GetStorageIDs", mtp.OP_GetStorageIDs, nil, nil)
	step("GetStorageInfo", mtp.OP_GetStorageInfo, []uint32{storageID}, nil)

	content := []byte("hello from mtpsim\n")
	info := buildObjectInfo(mtp.FORMAT_TEXT, uint32(len(content)), "hello.txt")

	sendParams, _ := step("SendObjectInfo", mtp.OP_SendObjectInfo, []uint32{storageID, 0xFFFFFFFF}, info)
	if len(sendParams) < 3 {
		return fmt.Errorf("SendObjectInfo did not return a handle")
	}
	handle := sendParams[2]

	step("SendObject", mtp.OP_SendObject, nil, content)
	step("GetObjectHandles", mtp.OP_GetObjectHandles, []uint32{storageID, 0, 0xFFFFFFFF}, nil)
	step("GetObjectInfo", mtp.OP_GetObjectInfo, []uint32{handle}, nil)

	_, data := step("GetObject", mtp.OP_GetObject, []uint32{handle}, nil)
	fmt.Printf("%-24s %q\n", "  contents", data)

	step("GetObjectPropList", mtp.OP_GetObjectPropList, []uint32{handle, 0, 0xFFFFFFFF, 0, 0}, nil)
	step("DeleteObject", mtp.OP_DeleteObject, []uint32{handle}, nil)
	step("CloseSession", mtp.OP_CloseSession, nil, nil)

	return nil
}
