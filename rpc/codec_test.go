package rpc

import (
	"testing"

	"google.golang.org/grpc/encoding"

	"github.com/gaestalt/lockd/testutil"
	"github.com/gaestalt/lockd/types"
)

func TestCodecRegistered(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	testutil.AssertNotNil(t, codec)
}

func TestCodecRoundTripAppendEntries(t *testing.T) {
	codec := jsonCodec{}

	cmd, err := types.NewAcquireCommand("L1", "C1", "us-east", 1, 500, 30500).Encode()
	testutil.RequireNoError(t, err)

	in := &types.AppendEntriesArgs{
		Term:         3,
		LeaderID:     "n1",
		PrevLogIndex: 4,
		PrevLogTerm:  2,
		Entries: []types.LogEntry{
			{Term: 3, Index: 5, Type: types.EntryAcquire, Command: cmd},
		},
		LeaderCommit: 4,
	}
	data, err := codec.Marshal(in)
	testutil.RequireNoError(t, err)

	out := &types.AppendEntriesArgs{}
	testutil.RequireNoError(t, codec.Unmarshal(data, out))
	testutil.AssertEqual(t, in, out)
}

func TestCodecRoundTripRegionMessages(t *testing.T) {
	codec := jsonCodec{}

	in := &ProposeRequest{
		LockID:       "L3",
		HolderID:     "C9",
		OriginRegion: "eu-west",
		Token:        12,
		ExpiresAt:    42000,
	}
	data, err := codec.Marshal(in)
	testutil.RequireNoError(t, err)

	out := &ProposeRequest{}
	testutil.RequireNoError(t, codec.Unmarshal(data, out))
	testutil.AssertEqual(t, in, out)
}
