// client/rpc.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package client

import (
	"fmt"
	"net"
	"net/rpc"
	"time"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/server"
	"github.com/mmp/tmcsim/util"
)

// rpcTimeout matches the coordinator's delivery timeout.
const rpcTimeout = 5 * time.Second

type RPCClient struct {
	*rpc.Client
}

func (c *RPCClient) callWithTimeout(serviceMethod string, args any, reply any) error {
	pc := &pendingCall{
		Call:      c.Go(serviceMethod, args, reply, nil),
		IssueTime: time.Now(),
	}

	select {
	case <-pc.Call.Done:
		return server.TryDecodeError(pc.Call.Error)
	case <-time.After(rpcTimeout):
		return fmt.Errorf("%s: %w", serviceMethod, server.ErrRPCTimeout)
	}
}

// pendingCall is an RPC call that has been issued without waiting for
// its result.
type pendingCall struct {
	Call      *rpc.Call
	IssueTime time.Time
	Callback  func(error)
}

func makeRPCCall(call *rpc.Call, callback func(error)) *pendingCall {
	return &pendingCall{
		Call:      call,
		IssueTime: time.Now(),
		Callback:  callback,
	}
}

func (p *pendingCall) CheckFinished() bool {
	select {
	case <-p.Call.Done:
		return true
	default:
		return false
	}
}

func (p *pendingCall) InvokeCallback() {
	if p.Callback != nil {
		p.Callback(server.TryDecodeError(p.Call.Error))
	}
}

func (p *pendingCall) TimedOut() bool {
	return time.Since(p.IssueTime) > rpcTimeout
}

func getClient(hostname string, lg *log.Logger) (*RPCClient, error) {
	conn, err := net.Dial("tcp", hostname)
	if err != nil {
		return nil, err
	}

	cc, err := util.MakeCompressedConn(conn)
	if err != nil {
		return nil, err
	}

	codec := util.MakeMessagepackClientCodec(cc)
	codec = util.MakeLoggingClientCodec(hostname, codec, lg)
	return &RPCClient{rpc.NewClientWithCodec(codec)}, nil
}
