// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package healthcare implements four small in-memory reference services
// (patient records, appointments, diagnostics and billing) used by the
// demo server and by end-to-end tests. They hold no real data; every
// operation answers with a formatted message plus the identifiers it
// produced or touched.
package healthcare

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jllopis/meshwork/pkg/transport"
)

// Service ids in the order the demo registers them.
const (
	PatientRecords = "patient-records"
	Appointments   = "appointments"
	Diagnostics    = "diagnostics"
	Billing        = "billing"
)

// IDs hands out sequential identifiers per prefix.
type IDs struct {
	next atomic.Int64
}

// NewIDs starts numbering at start.
func NewIDs(start int64) *IDs {
	ids := &IDs{}
	ids.next.Store(start)
	return ids
}

// Next returns prefix-N.
func (g *IDs) Next(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, g.next.Add(1))
}

// Services returns the four reference services keyed by service id.
func Services(ids *IDs) map[string]*transport.StaticService {
	if ids == nil {
		ids = NewIDs(10000)
	}
	return map[string]*transport.StaticService{
		PatientRecords: NewPatientRecords(ids),
		Appointments:   NewAppointments(ids),
		Diagnostics:    NewDiagnostics(ids),
		Billing:        NewBilling(ids),
	}
}

// Order lists the service ids in demo registration order.
func Order() []string {
	return []string{PatientRecords, Appointments, Diagnostics, Billing}
}

type param struct {
	name string
	typ  string
}

func str(name string) param { return param{name, "string"} }
func num(name string) param { return param{name, "double"} }
func integer(name string) param { return param{name, "int"} }

func op(name, desc string, params []param, fn transport.HandlerFunc) transport.Operation {
	specs := make([]transport.ParameterSpec, len(params))
	for i, p := range params {
		specs[i] = transport.ParameterSpec{Name: p.name, Type: p.typ, Required: true}
	}
	return transport.Operation{
		Spec:    transport.OperationSpec{Name: name, Description: desc, Parameters: specs},
		Handler: fn,
	}
}

func result(message string, fields ...string) map[string]interface{} {
	out := map[string]interface{}{"message": message}
	for i := 0; i+1 < len(fields); i += 2 {
		out[fields[i]] = fields[i+1]
	}
	return out
}

func s(args map[string]interface{}, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func f(args map[string]interface{}, key string) float64 {
	switch n := args[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}

// NewPatientRecords builds the patient records service.
func NewPatientRecords(ids *IDs) *transport.StaticService {
	return transport.NewStaticService(
		op("createPatientRecord", "Create a new patient record",
			[]param{str("patientName"), integer("age"), str("bloodType"), str("address")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := ids.Next("PT")
				return result(lines(
					"Patient record created successfully!",
					"Patient ID: "+id,
					"Name: "+s(a, "patientName"),
					fmt.Sprintf("Age: %d years", int(f(a, "age"))),
					"Blood Type: "+s(a, "bloodType"),
					"Status: ACTIVE",
				), "patientId", id), nil
			}),
		op("getPatientHistory", "Get patient medical history",
			[]param{str("patientId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "patientId")
				return result(lines(
					"Medical History for Patient "+id+":",
					"Allergies: Penicillin, Peanuts",
					"Chronic Conditions: Type 2 Diabetes, Hypertension",
					"Current Medications: Metformin 500mg, Lisinopril 10mg",
					"Last Visit: 2026-01-15",
				), "patientId", id), nil
			}),
		op("updatePatientInfo", "Update patient information",
			[]param{str("patientId"), str("fieldName"), str("newValue")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "patientId")
				return result(lines(
					"Patient record "+id+" updated successfully.",
					"Field Updated: "+s(a, "fieldName"),
					"New Value: "+s(a, "newValue"),
				), "patientId", id), nil
			}),
		op("addMedicalNote", "Add medical note to patient record",
			[]param{str("patientId"), str("noteType"), str("note")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "patientId")
				noteID := ids.Next("NOTE")
				return result(lines(
					"Medical note added to Patient "+id+":",
					"Note Type: "+s(a, "noteType"),
					"Note: "+s(a, "note"),
					"Note ID: "+noteID,
				), "patientId", id, "noteId", noteID), nil
			}),
		op("getVitalSigns", "Get patient vital signs history",
			[]param{str("patientId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "patientId")
				return result(lines(
					"Vital Signs for Patient "+id+":",
					"Blood Pressure: 128/82 mmHg",
					"Heart Rate: 72 bpm",
				), "patientId", id), nil
			}),
		op("searchPatients", "Search for patients by name or ID",
			[]param{str("searchTerm")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				return result(lines(
					"Search Results for '"+s(a, "searchTerm")+"':",
					"1. PT-12345 - John Doe",
				), "patientId", "PT-12345"), nil
			}),
		op("getImmunizationRecords", "Get patient immunization records",
			[]param{str("patientId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "patientId")
				return result(lines(
					"Immunization Records for Patient "+id+":",
					"Influenza: 2025-10-01",
					"Tetanus: 2021-03-12",
				), "patientId", id), nil
			}),
	)
}

// NewAppointments builds the appointments service.
func NewAppointments(ids *IDs) *transport.StaticService {
	return transport.NewStaticService(
		op("scheduleAppointment", "Schedule a new medical appointment",
			[]param{str("patientId"), str("doctorName"), str("appointmentType"), str("preferredDate")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := ids.Next("APT")
				return result(lines(
					"Appointment scheduled successfully!",
					"Appointment ID: "+id,
					"Patient ID: "+s(a, "patientId"),
					"Doctor: Dr. "+s(a, "doctorName"),
					"Type: "+s(a, "appointmentType"),
					"Date & Time: "+s(a, "preferredDate")+" at 10:00 AM",
					"Status: CONFIRMED",
				), "appointmentId", id, "patientId", s(a, "patientId")), nil
			}),
		op("getAppointmentDetails", "Get appointment details",
			[]param{str("appointmentId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "appointmentId")
				return result(lines(
					"Appointment Details for "+id+":",
					"Patient: John Doe (PT-12345)",
					"Doctor: Dr. Sarah Johnson",
					"Date: 2026-02-10 at 10:00 AM",
					"Status: CONFIRMED",
				), "appointmentId", id, "patientId", "PT-12345"), nil
			}),
		op("cancelAppointment", "Cancel an appointment",
			[]param{str("appointmentId"), str("reason")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "appointmentId")
				return result(lines(
					"Appointment "+id+" has been CANCELLED.",
					"Reason: "+s(a, "reason"),
				), "appointmentId", id), nil
			}),
		op("rescheduleAppointment", "Reschedule an existing appointment",
			[]param{str("appointmentId"), str("newDate")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "appointmentId")
				return result(lines(
					"Appointment "+id+" has been RESCHEDULED.",
					"New Date: "+s(a, "newDate")+" at 2:00 PM",
				), "appointmentId", id), nil
			}),
		op("getAvailableSlots", "Get available appointment slots",
			[]param{str("doctorName"), str("date")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				return result(lines(
					"Available Slots for Dr. "+s(a, "doctorName")+" on "+s(a, "date")+":",
					"  9:00 AM - 9:30 AM (Available)",
					"  2:00 PM - 2:30 PM (Available)",
				)), nil
			}),
		op("getUpcomingAppointments", "Get patient upcoming appointments",
			[]param{str("patientId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "patientId")
				return result(lines(
					"Upcoming Appointments for Patient "+id+":",
					"1. APT-12345 - Dr. Johnson (Cardiology) - Feb 10, 2026 10:00 AM",
					"2. APT-12346 - Dr. Smith (General) - Feb 15, 2026 2:00 PM",
				), "patientId", id, "appointmentId", "APT-12345"), nil
			}),
		op("checkInPatient", "Check in patient for appointment",
			[]param{str("appointmentId"), str("patientId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				return result(lines(
					"Patient Check-In Successful!",
					"Appointment ID: "+s(a, "appointmentId"),
					"Patient ID: "+s(a, "patientId"),
					"Status: CHECKED IN",
				), "appointmentId", s(a, "appointmentId"), "patientId", s(a, "patientId")), nil
			}),
		op("sendAppointmentReminder", "Send appointment reminder",
			[]param{str("appointmentId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				return result(lines(
					"Appointment Reminder Sent!",
					"Appointment ID: "+s(a, "appointmentId"),
					"Status: DELIVERED",
				), "appointmentId", s(a, "appointmentId")), nil
			}),
	)
}

// NewDiagnostics builds the diagnostics service.
func NewDiagnostics(ids *IDs) *transport.StaticService {
	return transport.NewStaticService(
		op("orderLabTests", "Order laboratory tests for a patient",
			[]param{str("patientId"), str("testType"), str("urgency")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := ids.Next("LAB")
				return result(lines(
					"Lab Tests Ordered Successfully!",
					"Lab Order ID: "+id,
					"Patient ID: "+s(a, "patientId"),
					"Test Type: "+s(a, "testType"),
					"Urgency: "+strings.ToUpper(s(a, "urgency")),
				), "labOrderId", id, "patientId", s(a, "patientId")), nil
			}),
		op("getLabResults", "Get laboratory test results",
			[]param{str("labOrderId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "labOrderId")
				return result(lines(
					"Lab Results for Order "+id+":",
					"Hemoglobin: 14.2 g/dL (Normal)",
					"Glucose (Fasting): 126 mg/dL (HIGH)",
				), "labOrderId", id), nil
			}),
		op("orderImagingScan", "Order medical imaging scan",
			[]param{str("patientId"), str("scanType"), str("bodyPart"), str("indication")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := ids.Next("IMG")
				return result(lines(
					"Imaging Scan Ordered!",
					"Imaging Order ID: "+id,
					"Scan Type: "+s(a, "scanType"),
					"Body Part: "+s(a, "bodyPart"),
				), "imagingOrderId", id, "patientId", s(a, "patientId")), nil
			}),
		op("getImagingResults", "Get imaging scan results",
			[]param{str("imagingOrderId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "imagingOrderId")
				return result(lines(
					"Imaging Results for Order "+id+":",
					"Impression: No acute findings",
				), "imagingOrderId", id), nil
			}),
		op("analyzeDiagnosticTrends", "Analyze diagnostic trends",
			[]param{str("patientId"), str("diagnosticType")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				return result(lines(
					"Diagnostic Trend Analysis for Patient "+s(a, "patientId")+":",
					"Type: "+s(a, "diagnosticType"),
					"Trend: Improving over the last 6 months",
				), "patientId", s(a, "patientId")), nil
			}),
		op("createDiagnosticReport", "Create diagnostic report",
			[]param{str("patientId"), str("diagnosisType")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				return result(lines(
					"Diagnostic Report Created for Patient "+s(a, "patientId")+":",
					"Diagnosis Type: "+s(a, "diagnosisType"),
				), "patientId", s(a, "patientId")), nil
			}),
		op("scheduleFollowUpTests", "Schedule follow-up diagnostic tests",
			[]param{str("patientId"), str("previousTestId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := ids.Next("LAB")
				return result(lines(
					"Follow-up Tests Scheduled!",
					"Patient ID: "+s(a, "patientId"),
					"Previous Test: "+s(a, "previousTestId"),
					"New Lab Order ID: "+id,
				), "labOrderId", id, "patientId", s(a, "patientId")), nil
			}),
	)
}

// NewBilling builds the billing service. Invoices carry 8% tax.
func NewBilling(ids *IDs) *transport.StaticService {
	return transport.NewStaticService(
		op("generateInvoice", "Generate invoice for medical services",
			[]param{str("patientId"), str("serviceType"), num("amount")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				amount := f(a, "amount")
				if amount <= 0 {
					return nil, fmt.Errorf("amount must be positive, got %v", a["amount"])
				}
				id := ids.Next("INV")
				tax := amount * 0.08
				return result(lines(
					"Invoice Generated Successfully!",
					"Invoice ID: "+id,
					"Patient ID: "+s(a, "patientId"),
					"Service Type: "+s(a, "serviceType"),
					fmt.Sprintf("Service Amount: $%.2f", amount),
					fmt.Sprintf("Tax (8%%): $%.2f", tax),
					fmt.Sprintf("Total Amount: $%.2f", amount+tax),
					"Status: PENDING PAYMENT",
				), "invoiceId", id, "patientId", s(a, "patientId")), nil
			}),
		op("processPayment", "Process patient payment",
			[]param{str("invoiceId"), num("amount"), str("paymentMethod")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := ids.Next("PAY")
				return result(lines(
					"Payment Processed Successfully!",
					"Payment ID: "+id,
					"Invoice ID: "+s(a, "invoiceId"),
					fmt.Sprintf("Payment Amount: $%.2f", f(a, "amount")),
					"Payment Method: "+s(a, "paymentMethod"),
					"Status: COMPLETED",
				), "paymentId", id, "invoiceId", s(a, "invoiceId")), nil
			}),
		op("submitInsuranceClaim", "Submit insurance claim",
			[]param{str("patientId"), str("insuranceProvider"), str("serviceCode"), num("claimAmount")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := ids.Next("CLM")
				return result(lines(
					"Insurance Claim Submitted!",
					"Claim ID: "+id,
					"Patient ID: "+s(a, "patientId"),
					"Insurance Provider: "+s(a, "insuranceProvider"),
					fmt.Sprintf("Claim Amount: $%.2f", f(a, "claimAmount")),
					"Status: SUBMITTED",
				), "claimId", id, "patientId", s(a, "patientId")), nil
			}),
		op("getClaimStatus", "Get insurance claim status",
			[]param{str("claimId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				return result(lines(
					"Insurance Claim Status",
					"Claim ID: "+s(a, "claimId"),
					"Status: APPROVED",
				), "claimId", s(a, "claimId")), nil
			}),
		op("getAccountBalance", "Get patient account balance",
			[]param{str("patientId")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				id := s(a, "patientId")
				return result(lines(
					"Account Balance for Patient "+id,
					"Current Balance: $450.00",
					"Insurance Pending: $1,350.00",
				), "patientId", id), nil
			}),
		op("setupPaymentPlan", "Set up payment plan",
			[]param{str("patientId"), num("totalAmount"), integer("numberOfMonths")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				months := f(a, "numberOfMonths")
				if months < 1 {
					return nil, fmt.Errorf("numberOfMonths must be at least 1")
				}
				id := ids.Next("PLAN")
				return result(lines(
					"Payment Plan Created!",
					"Plan ID: "+id,
					"Patient ID: "+s(a, "patientId"),
					fmt.Sprintf("Monthly Payment: $%.2f", f(a, "totalAmount")/months),
				), "planId", id, "patientId", s(a, "patientId")), nil
			}),
		op("generateStatement", "Generate billing statement",
			[]param{str("patientId"), str("statementPeriod")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				return result(lines(
					"Billing Statement",
					"Patient ID: "+s(a, "patientId"),
					"Statement Period: "+s(a, "statementPeriod"),
					"Amount Due: $450.00",
				), "patientId", s(a, "patientId")), nil
			}),
		op("verifyInsurance", "Verify insurance coverage",
			[]param{str("patientId"), str("insuranceProvider"), str("policyNumber")},
			func(_ context.Context, a map[string]interface{}) (interface{}, error) {
				return result(lines(
					"Insurance Verification Results",
					"Patient ID: "+s(a, "patientId"),
					"Insurance Provider: "+s(a, "insuranceProvider"),
					"Policy Number: "+s(a, "policyNumber"),
					"Status: ACTIVE",
				), "patientId", s(a, "patientId")), nil
			}),
	)
}
