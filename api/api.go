// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package api exposes the protocol's read-only REST surface for off-chain
// indexers and operator tooling.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/poolfi/poolfi/api/utils"
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/protocol"
)

// API serves protocol queries.
type API struct {
	protocol *protocol.Protocol
}

// New assembles the REST handler with CORS support.
func New(p *protocol.Protocol, allowedOrigins string) http.HandlerFunc {
	api := &API{protocol: p}

	router := mux.NewRouter()
	api.Mount(router, "/poolfi")

	origins := strings.Split(strings.TrimSpace(allowedOrigins), ",")
	for i, o := range origins {
		origins[i] = strings.TrimSpace(o)
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"content-type"}),
	)(router).ServeHTTP
}

// Mount attaches the API's endpoints beneath pathPrefix.
func (a *API) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/summary").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(a.handleGetSummary))
	sub.Path("/operators/{address}").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(a.handleGetOperator))
	sub.Path("/operators/{address}/pubkeys").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(a.handleGetOperatorPubkeys))
	sub.Path("/validators/{pubkey}").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(a.handleGetValidator))
	sub.Path("/accounts/{address}").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(a.handleGetAccount))
	sub.Path("/requests/{index}").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(a.handleGetRequest))
	sub.Path("/epochs/{epoch}").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(a.handleGetEpoch))
	sub.Path("/ejected/{cycle}").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(a.handleGetEjected))
	sub.Path("/settings/{key}").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(a.handleGetSetting))
}

func parseAddress(r *http.Request) (poolfi.Address, error) {
	addr, err := poolfi.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		return poolfi.Address{}, utils.BadRequest(errors.WithMessage(err, "address"))
	}
	return *addr, nil
}

func parseUint(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, utils.BadRequest(errors.WithMessage(err, name))
	}
	return v, nil
}

func parseQueryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, utils.BadRequest(errors.WithMessage(err, name))
	}
	return v, nil
}

func (a *API) handleGetSummary(w http.ResponseWriter, _ *http.Request) error {
	summary, err := a.protocol.Summary()
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, summary)
}

func (a *API) handleGetOperator(w http.ResponseWriter, r *http.Request) error {
	addr, err := parseAddress(r)
	if err != nil {
		return err
	}
	info, err := a.protocol.Operator(addr)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, info)
}

func (a *API) handleGetOperatorPubkeys(w http.ResponseWriter, r *http.Request) error {
	addr, err := parseAddress(r)
	if err != nil {
		return err
	}
	from, err := parseQueryUint(r, "from", 0)
	if err != nil {
		return err
	}
	limit, err := parseQueryUint(r, "limit", 100)
	if err != nil {
		return err
	}
	pubkeys, err := a.protocol.OperatorPubkeys(addr, from, limit)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, pubkeys)
}

func (a *API) handleGetValidator(w http.ResponseWriter, r *http.Request) error {
	pubkey, err := poolfi.ParsePubkey(mux.Vars(r)["pubkey"])
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "pubkey"))
	}
	v, err := a.protocol.Validator(pubkey)
	if err != nil {
		return err
	}
	if v == nil {
		return utils.NotFound(errors.New("validator not found"))
	}
	deposited, err := a.protocol.DepositedAmount(pubkey)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{
		"operator":           v.Operator,
		"class":              v.Class.String(),
		"status":             v.Status.String(),
		"createdAt":          v.CreatedAt,
		"nodeDeposit":        v.NodeDeposit,
		"userDeposit":        v.UserDeposit,
		"credentialsMatched": v.CredentialsMatched,
		"deposited":          deposited,
	})
}

func (a *API) handleGetAccount(w http.ResponseWriter, r *http.Request) error {
	addr, err := parseAddress(r)
	if err != nil {
		return err
	}
	balance, err := a.protocol.Balance(addr)
	if err != nil {
		return err
	}
	receipts, err := a.protocol.RethBalance(addr)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"balance": balance, "rethBalance": receipts})
}

func (a *API) handleGetRequest(w http.ResponseWriter, r *http.Request) error {
	index, err := parseUint(r, "index")
	if err != nil {
		return err
	}
	req, err := a.protocol.Request(index)
	if err != nil {
		return err
	}
	if req == nil {
		return utils.NotFound(errors.New("request not found"))
	}
	return utils.WriteJSON(w, utils.M{
		"owner":     req.Owner,
		"amount":    req.Amount,
		"cycle":     req.Cycle,
		"withdrawn": req.Withdrawn,
	})
}

func (a *API) handleGetEpoch(w http.ResponseWriter, r *http.Request) error {
	epoch, err := parseUint(r, "epoch")
	if err != nil {
		return err
	}
	root, err := a.protocol.MerkleRoot(epoch)
	if err != nil {
		return utils.NotFound(err)
	}
	resp := utils.M{"root": root.String()}
	if raw := r.URL.Query().Get("claimedIndex"); raw != "" {
		index, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return utils.BadRequest(errors.WithMessage(err, "claimedIndex"))
		}
		claimed, err := a.protocol.IsClaimed(epoch, index)
		if err != nil {
			return err
		}
		resp["claimed"] = claimed
	}
	return utils.WriteJSON(w, resp)
}

func (a *API) handleGetEjected(w http.ResponseWriter, r *http.Request) error {
	cycle, err := parseUint(r, "cycle")
	if err != nil {
		return err
	}
	list, err := a.protocol.Ejected(cycle)
	if err != nil {
		return err
	}
	if list == nil {
		list = []uint64{}
	}
	return utils.WriteJSON(w, utils.M{"cycle": cycle, "validatorIndices": list})
}

func (a *API) handleGetSetting(w http.ResponseWriter, r *http.Request) error {
	value, err := a.protocol.Setting(mux.Vars(r)["key"])
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"value": value})
}
