package association

import (
	"fmt"

	"github.com/dicomdul/duldicom/pdu"
)

// PresentationContext is the negotiated shape of one abstract syntax
// proposal, PS3.8 9.3.2.2/9.3.3.2.
type PresentationContext struct {
	ContextID         byte
	AbstractSyntaxUID string
	// ProposedTransferSyntaxUIDs is set on the proposer side before AC
	// arrives; AcceptedTransferSyntaxUID (singular) replaces it once
	// negotiated.
	ProposedTransferSyntaxUIDs []string
	Result                     pdu.Result
	AcceptedTransferSyntaxUID  string
}

// Accepted reports whether the peer accepted this context.
func (pc *PresentationContext) Accepted() bool { return pc.Result == pdu.ResultAccepted }

// contextManager tracks the PCID <-> abstract-syntax mapping for one
// Association, built from an A-ASSOCIATE-RQ on the requestor side and
// matched against the AC that follows — generalizing the teacher lineage's
// contextManager to carry a full transfer-syntax list per context instead
// of exactly one, since this module may coalesce multiple proposed TS
// under a single PCID.
type contextManager struct {
	byContextID      map[byte]*PresentationContext
	byAbstractSyntax map[string]*PresentationContext

	peerMaxPDUSize                uint32
	peerImplementationClassUID    string
	peerImplementationVersionName string
}

func newContextManager() *contextManager {
	return &contextManager{
		byContextID:      make(map[byte]*PresentationContext),
		byAbstractSyntax: make(map[string]*PresentationContext),
	}
}

const implementationClassUID = "1.2.826.0.1.3680043.9.7391.1"
const implementationVersionName = "DULDICOM_1"

// BuildProposal constructs the Items of an A-ASSOCIATE-RQ from a map of
// abstract syntax UID -> ordered transfer syntax UID list, applying the
// PreferredTransferSyntax/SerializedPresentationContexts policy from cfg.
func (m *contextManager) BuildProposal(cfg Config, syntaxesByAbstract map[string][]string) []pdu.SubItem {
	items := []pdu.SubItem{&pdu.ApplicationContextItem{Name: pdu.DICOMApplicationContextName}}

	maxPDU := cfg.MaxPduSize
	if maxPDU == 0 {
		maxPDU = pdu.MaxPDULength
	}

	var contextID byte = 1
	for abstract, proposed := range syntaxesByAbstract {
		tsList := buildTransferSyntaxList(proposed, cfg)
		if cfg.SerializedPresentationContexts {
			for _, ts := range tsList {
				items = append(items, m.newRequestItem(contextID, abstract, []string{ts}))
				contextID += 2
			}
		} else {
			items = append(items, m.newRequestItem(contextID, abstract, tsList))
			contextID += 2
		}
	}

	items = append(items, &pdu.UserInformationItem{Items: []pdu.SubItem{
		&pdu.UserInformationMaximumLengthItem{MaximumLengthReceived: maxPDU},
		&pdu.ImplementationClassUIDSubItem{UID: implementationClassUID},
		&pdu.ImplementationVersionNameSubItem{Name: implementationVersionName},
	}})
	return items
}

func (m *contextManager) newRequestItem(contextID byte, abstract string, ts []string) *pdu.PresentationContextItem {
	subItems := []pdu.SubItem{&pdu.AbstractSyntaxSubItem{Name: abstract}}
	for _, t := range ts {
		subItems = append(subItems, &pdu.TransferSyntaxSubItem{Name: t})
	}
	pc := &PresentationContext{ContextID: contextID, AbstractSyntaxUID: abstract, ProposedTransferSyntaxUIDs: ts}
	m.byContextID[contextID] = pc
	m.byAbstractSyntax[abstract] = pc
	return &pdu.PresentationContextItem{Request: true, ContextID: contextID, Items: subItems}
}

// buildTransferSyntaxList implements the §4.G construction: Preferred (if
// set, exactly once at position 0), the file-observed syntaxes, Explicit VR
// LE (if offered), Implicit VR LE (always, as a universal fallback).
func buildTransferSyntaxList(observed []string, cfg Config) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ts string) {
		if ts == "" || seen[ts] {
			return
		}
		seen[ts] = true
		out = append(out, ts)
	}
	add(cfg.PreferredTransferSyntax)
	for _, ts := range observed {
		add(ts)
	}
	if cfg.OfferExplicitSyntax {
		add(ExplicitVRLittleEndian)
	}
	add(ImplicitVRLittleEndian)
	return out
}

// OnAssociateResponse folds an A-ASSOCIATE-AC's items into the pending
// requests recorded by BuildProposal, resolving each PresentationContext's
// Result and AcceptedTransferSyntaxUID.
func (m *contextManager) OnAssociateResponse(ac *pdu.AAssociate) error {
	for _, pc := range ac.PresentationContexts() {
		pending, ok := m.byContextID[pc.ContextID]
		if !ok {
			return fmt.Errorf("association: A-ASSOCIATE-AC referenced unknown context ID %d", pc.ContextID)
		}
		pending.Result = pc.Result
		if pc.Result == pdu.ResultAccepted {
			ts := pc.TransferSyntaxes()
			if len(ts) != 1 {
				return fmt.Errorf("association: context %d accepted with %d transfer syntaxes, want exactly 1", pc.ContextID, len(ts))
			}
			pending.AcceptedTransferSyntaxUID = ts[0]
		}
	}
	if ui := ac.UserInformation(); ui != nil {
		m.applyUserInformation(ui)
	}
	return nil
}

// OnAssociateRequest is the acceptor-side counterpart: given an inbound
// A-ASSOCIATE-RQ and the set of abstract syntaxes this side supports (with
// the transfer syntaxes it can decode, most-preferred first), builds the
// A-ASSOCIATE-AC response items, accepting the first mutually supported
// transfer syntax per proposed context and rejecting the rest.
func (m *contextManager) OnAssociateRequest(rq *pdu.AAssociate, supported map[string][]string, maxPDU uint32) []pdu.SubItem {
	items := []pdu.SubItem{&pdu.ApplicationContextItem{Name: pdu.DICOMApplicationContextName}}
	for _, pc := range rq.PresentationContexts() {
		abstract := pc.AbstractSyntax()
		accepted := ""
		ourTS, ok := supported[abstract]
		if ok {
			for _, candidate := range pc.TransferSyntaxes() {
				if containsString(ourTS, candidate) {
					accepted = candidate
					break
				}
			}
		}
		result := pdu.ResultAccepted
		switch {
		case !ok:
			result = pdu.ResultAbstractSyntaxNotSupported
		case accepted == "":
			result = pdu.ResultTransferSyntaxesNotSupported
		}
		var respItems []pdu.SubItem
		if result == pdu.ResultAccepted {
			respItems = []pdu.SubItem{&pdu.TransferSyntaxSubItem{Name: accepted}}
			entry := &PresentationContext{ContextID: pc.ContextID, AbstractSyntaxUID: abstract, AcceptedTransferSyntaxUID: accepted, Result: result}
			m.byContextID[pc.ContextID] = entry
			m.byAbstractSyntax[abstract] = entry
		}
		items = append(items, &pdu.PresentationContextItem{Request: false, ContextID: pc.ContextID, Result: result, Items: respItems})
	}
	items = append(items, &pdu.UserInformationItem{Items: []pdu.SubItem{
		&pdu.UserInformationMaximumLengthItem{MaximumLengthReceived: maxPDU},
		&pdu.ImplementationClassUIDSubItem{UID: implementationClassUID},
		&pdu.ImplementationVersionNameSubItem{Name: implementationVersionName},
	}})
	if ui := rq.UserInformation(); ui != nil {
		m.applyUserInformation(ui)
	}
	return items
}

func (m *contextManager) applyUserInformation(ui *pdu.UserInformationItem) {
	for _, it := range ui.Items {
		switch v := it.(type) {
		case *pdu.UserInformationMaximumLengthItem:
			m.peerMaxPDUSize = v.MaximumLengthReceived
		case *pdu.ImplementationClassUIDSubItem:
			m.peerImplementationClassUID = v.UID
		case *pdu.ImplementationVersionNameSubItem:
			m.peerImplementationVersionName = v.Name
		}
	}
}

// LookupByAbstractSyntax returns the negotiated context for abstract, if any.
func (m *contextManager) LookupByAbstractSyntax(abstract string) (*PresentationContext, bool) {
	pc, ok := m.byAbstractSyntax[abstract]
	return pc, ok
}

// LookupByContextID returns the negotiated context for id, if any.
func (m *contextManager) LookupByContextID(id byte) (*PresentationContext, bool) {
	pc, ok := m.byContextID[id]
	return pc, ok
}

// AcceptedContexts returns every PresentationContext the peer accepted.
func (m *contextManager) AcceptedContexts() []*PresentationContext {
	var out []*PresentationContext
	for _, pc := range m.byContextID {
		if pc.Accepted() {
			out = append(out, pc)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
