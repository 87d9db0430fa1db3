// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command flowlogd boots a durable, badger-backed flowlog store and keeps
// it open for the process lifetime. It exists for local smoke-testing of
// the store; it does not expose a network or RPC surface.
package main

import (
	"flag"

	"k8s.io/klog/v2"

	"github.com/flowlog/storagenode/asyncstore"
	"github.com/flowlog/storagenode/kv/badger"
	"github.com/flowlog/storagenode/logstore"
)

var (
	storageDir = flag.String("storage_dir", "", "Directory for the badger-backed entry store. Required.")
	workers    = flag.Int("workers", asyncstore.DefaultWorkerPoolSize, "Number of async_storage_worker goroutines.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *storageDir == "" {
		klog.Exitf("--storage_dir is required")
	}

	db, err := badger.Open(*storageDir)
	if err != nil {
		klog.Exitf("badger.Open(%q): %v", *storageDir, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			klog.Errorf("db.Close: %v", err)
		}
	}()

	lm, err := logstore.NewLogManager(db)
	if err != nil {
		klog.Exitf("logstore.NewLogManager: %v", err)
	}

	store := asyncstore.New(lm, *workers)
	defer store.Close()

	txCount, err := lm.NextTxSeq()
	if err != nil {
		klog.Exitf("NextTxSeq: %v", err)
	}
	klog.Infof("flowlogd ready, storage_dir=%s, tx_count=%d", *storageDir, txCount)

	select {}
}
