package volume

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner answers scripts by substring match and records them
type scriptedRunner struct {
	commands map[string]bool
	replies  map[string]string
	failures map[string]error
	scripts  []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		commands: map[string]bool{"powershell.exe": true},
		replies:  map[string]string{},
		failures: map[string]error{},
	}
}

func (r *scriptedRunner) RunPowerShell(_ context.Context, script string) (string, error) {
	r.scripts = append(r.scripts, script)
	for key, err := range r.failures {
		if strings.Contains(script, key) {
			return "", err
		}
	}
	for key, reply := range r.replies {
		if strings.Contains(script, key) {
			return reply, nil
		}
	}
	return "", nil
}

func (r *scriptedRunner) CheckDependencies(deps []string) error {
	var missing []string
	for _, dep := range deps {
		if !r.commands[dep] {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required commands: " + strings.Join(missing, ", "))
	}
	return nil
}

func (r *scriptedRunner) last() string {
	if len(r.scripts) == 0 {
		return ""
	}
	return r.scripts[len(r.scripts)-1]
}

func TestHyperVCheckAvailable(t *testing.T) {
	ctx := context.Background()

	runner := newScriptedRunner()
	require.NoError(t, NewHyperV(runner).CheckAvailable(ctx))
	assert.Contains(t, runner.last(), "Get-Command New-VHD")

	runner = newScriptedRunner()
	runner.commands = map[string]bool{}
	err := NewHyperV(runner).CheckAvailable(ctx)
	assert.ErrorContains(t, err, "missing required commands: powershell.exe")
	assert.Empty(t, runner.scripts)

	runner = newScriptedRunner()
	runner.failures["Get-Command"] = errors.New("not recognized")
	err = NewHyperV(runner).CheckAvailable(ctx)
	assert.ErrorContains(t, err, "Hyper-V")
}

func TestHyperVCreateImage(t *testing.T) {
	runner := newScriptedRunner()
	h := NewHyperV(runner)

	image, err := h.CreateImage(context.Background(), `C:\out\o'brien.vhdx`, 1<<30, true)
	require.NoError(t, err)
	assert.Equal(t, Image{Path: `C:\out\o'brien.vhdx`, SizeBytes: 1 << 30, Dynamic: true}, image)
	assert.Equal(t, `New-VHD -Path 'C:\out\o''brien.vhdx' -SizeBytes 1073741824 -Dynamic | Out-Null`, runner.last())

	_, err = h.CreateImage(context.Background(), `C:\fixed.vhd`, 1<<30, false)
	require.NoError(t, err)
	assert.Contains(t, runner.last(), "-Fixed")
}

func TestHyperVAttach(t *testing.T) {
	runner := newScriptedRunner()
	runner.replies["Mount-VHD"] = "3\r\n"
	h := NewHyperV(runner)

	disk, err := h.Attach(context.Background(), Image{Path: `C:\t.vhdx`})
	require.NoError(t, err)
	assert.Equal(t, DiskID(3), disk)
	assert.Equal(t, `(Mount-VHD -Path 'C:\t.vhdx' -PassThru | Get-Disk).Number`, runner.last())

	runner.replies["Mount-VHD"] = ""
	_, err = h.Attach(context.Background(), Image{Path: `C:\t.vhdx`})
	assert.ErrorContains(t, err, "unexpected disk number")
}

func TestHyperVQueryPartitionState(t *testing.T) {
	tests := []struct {
		reply string
		want  PartitionState
	}{
		{reply: "RAW", want: PartitionRaw},
		{reply: "raw\n", want: PartitionRaw},
		{reply: "MBR", want: PartitionInitialized},
		{reply: "GPT", want: PartitionInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			runner := newScriptedRunner()
			runner.replies["Get-Disk"] = tt.reply
			got, err := NewHyperV(runner).QueryPartitionState(context.Background(), 4)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "(Get-Disk -Number 4).PartitionStyle", runner.last())
		})
	}
}

func TestHyperVPartitionAndFormat(t *testing.T) {
	runner := newScriptedRunner()
	runner.replies["New-Partition"] = "f"
	h := NewHyperV(runner)
	ctx := context.Background()

	require.NoError(t, h.InitializeDisk(ctx, 2))
	assert.Equal(t, "Initialize-Disk -Number 2 -PartitionStyle MBR", runner.last())

	mount, err := h.CreateMaximalPartition(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, MountIdentity{Letter: "F", Root: `F:\`}, mount)
	assert.Contains(t, runner.last(), "-UseMaximumSize -AssignDriveLetter")

	require.NoError(t, h.FormatNTFS(ctx, mount, "C"))
	assert.Equal(t, "Format-Volume -DriveLetter F -FileSystem NTFS -NewFileSystemLabel 'C' -Confirm:$false -Force | Out-Null", runner.last())

	require.NoError(t, h.Detach(ctx, Image{Path: `C:\t.vhdx`}))
	assert.Equal(t, `Dismount-VHD -Path 'C:\t.vhdx'`, runner.last())
}

func TestHyperVPartitionWithoutLetter(t *testing.T) {
	runner := newScriptedRunner()
	runner.replies["New-Partition"] = "\x00"
	h := NewHyperV(runner)

	mount, err := h.CreateMaximalPartition(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, mount.IsZero())

	err = h.FormatNTFS(context.Background(), mount, "C")
	assert.ErrorContains(t, err, "without a drive letter")
}

func TestHyperVInspect(t *testing.T) {
	runner := newScriptedRunner()
	runner.replies["Get-VHD"] = `{"Path":"C:\\t.vhdx","Attached":true,"DiskNumber":3,"Size":137438953472,"FileSize":4194304,"VhdFormat":"VHDX","VhdType":"Dynamic"}`
	h := NewHyperV(runner)

	info, err := h.Inspect(context.Background(), `C:\t.vhdx`)
	require.NoError(t, err)
	require.NotNil(t, info.DiskNumber)
	assert.Equal(t, 3, *info.DiskNumber)
	assert.Equal(t, `C:\t.vhdx`, info.Path)
	assert.True(t, info.Attached)
	assert.Equal(t, uint64(137438953472), info.Size)
	assert.Equal(t, "VHDX", info.Format)
	assert.Equal(t, "Dynamic", info.Type)

	runner.replies["Get-VHD"] = `{"Path":"C:\\t.vhdx","Attached":false,"DiskNumber":null,"Size":1,"FileSize":1,"VhdFormat":"VHD","VhdType":"Fixed"}`
	info, err = h.Inspect(context.Background(), `C:\t.vhdx`)
	require.NoError(t, err)
	assert.Nil(t, info.DiskNumber)
	assert.False(t, info.Attached)

	runner.replies["Get-VHD"] = "not json"
	_, err = h.Inspect(context.Background(), `C:\t.vhdx`)
	assert.ErrorContains(t, err, "failed to parse")
}

func TestHyperVErrorsWrapCommandFailure(t *testing.T) {
	runner := newScriptedRunner()
	runner.failures["Dismount-VHD"] = errors.New("in use")

	err := NewHyperV(runner).Detach(context.Background(), Image{Path: `C:\t.vhdx`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to detach")
	assert.Contains(t, err.Error(), "in use")
}
