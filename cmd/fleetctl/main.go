/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/carverauto/fleetradar/pkg/cli"
	"github.com/carverauto/fleetradar/pkg/lifecycle"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	url := flag.String("url", "http://127.0.0.1:8000", "Base URL of the parent node")
	watch := flag.Duration("watch", 0, "Refresh interval; 0 renders once")
	timeout := flag.Duration("timeout", 10*time.Second, "HTTP request timeout")
	flag.Parse()

	ctx, stop := lifecycle.SignalContext(context.Background())
	defer stop()

	client := &http.Client{Timeout: *timeout}

	if *watch > 0 {
		err := cli.Watch(ctx, os.Stdout, client, *url, *watch)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	}

	nodes, err := cli.FetchFleet(ctx, client, *url)
	if err != nil {
		return err
	}

	fmt.Println(cli.RenderFleet(nodes))

	return nil
}
